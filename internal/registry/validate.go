package registry

import (
	"strings"
	"time"

	"clinic/registration-service/internal/models"
)

const maxAge = 150

var phoneSeparators = strings.NewReplacer(" ", "", "-", "", ".", "", "(", "", ")", "")

// CanonicalPhone strips common separators and requires exactly ten digits.
// Country codes are not rewritten.
func CanonicalPhone(raw string) (string, error) {
	phone := phoneSeparators.Replace(strings.TrimSpace(raw))
	if phone == "" {
		return "", invalid("phone", "phone is required")
	}
	if len(phone) != 10 {
		return "", invalid("phone", "phone must be exactly 10 digits")
	}
	for _, r := range phone {
		if r < '0' || r > '9' {
			return "", invalid("phone", "phone must be exactly 10 digits")
		}
	}
	return phone, nil
}

func normalizeSex(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return "", invalid("sex", "sex is required")
	case "m", models.SexMale:
		return models.SexMale, nil
	case "f", models.SexFemale:
		return models.SexFemale, nil
	case "o", models.SexOther:
		return models.SexOther, nil
	default:
		return "", invalid("sex", "sex must be male, female or other")
	}
}

func validateDOB(raw string, today time.Time) (string, error) {
	dob := strings.TrimSpace(raw)
	if dob == "" {
		return "", nil
	}
	parsed, err := time.Parse(models.DateLayout, dob)
	if err != nil {
		return "", invalid("dob", "dob must be YYYY-MM-DD")
	}
	if parsed.After(today) {
		return "", invalid("dob", "dob cannot be in the future")
	}
	return dob, nil
}

// normalize trims every field and checks the required ones. It never touches
// the store.
func (r RegisterRequest) normalize(today time.Time) (RegisterRequest, error) {
	phone, err := CanonicalPhone(r.Phone)
	if err != nil {
		return r, err
	}
	r.Phone = phone

	r.PatientName = strings.Join(strings.Fields(r.PatientName), " ")
	if r.PatientName == "" {
		return r, invalid("patient_name", "patient name is required")
	}

	if r.Sex, err = normalizeSex(r.Sex); err != nil {
		return r, err
	}

	if r.DOB, err = validateDOB(r.DOB, today); err != nil {
		return r, err
	}
	if r.Age != nil && (*r.Age < 0 || *r.Age > maxAge) {
		return r, invalid("age", "age must be between 0 and 150")
	}
	if r.Age == nil && r.DOB == "" {
		return r, invalid("age", "age or dob is required")
	}

	r.DoctorID = strings.TrimSpace(r.DoctorID)
	if r.DoctorID == "" {
		return r, invalid("doctor_id", "assigned doctor is required")
	}

	r.RequestID = strings.TrimSpace(r.RequestID)
	r.Address = strings.TrimSpace(r.Address)
	r.Allergies = strings.TrimSpace(r.Allergies)
	r.Complaint = strings.TrimSpace(r.Complaint)
	r.TerminalID = strings.TrimSpace(r.TerminalID)
	r.StaffID = strings.TrimSpace(r.StaffID)
	return r, nil
}

func (r *Resolution) validate() error {
	if r == nil {
		return nil
	}
	r.ReuseVisitID = strings.TrimSpace(r.ReuseVisitID)
	r.Reason = strings.TrimSpace(r.Reason)
	switch r.Kind {
	case ResolutionReuse:
		if r.ReuseVisitID == "" {
			return invalid("resolution.reuse_visit_id", "reuse requires the visit to reopen")
		}
	case ResolutionFollowUp:
	case ResolutionProceedNew:
		if r.Reason == "" {
			return invalid("resolution.reason", "a reason is required to register a same-day duplicate as new")
		}
	default:
		return invalid("resolution.kind", "resolution must be reuse, follow_up or proceed_new")
	}
	return nil
}
