package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"clinic/registration-service/internal/config"
	"clinic/registration-service/internal/logging"
	"clinic/registration-service/internal/models"

	"github.com/spf13/cobra"
)

func doctorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctors",
		Short: "Manage the doctor directory",
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add or update a doctor",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("id")
			name, _ := cmd.Flags().GetString("name")
			department, _ := cmd.Flags().GetString("department")
			inactive, _ := cmd.Flags().GetBool("inactive")
			id, name = strings.TrimSpace(id), strings.TrimSpace(name)
			if id == "" || name == "" {
				return fmt.Errorf("--id and --name are required")
			}

			st, err := openCommandStores(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			doctor := models.Doctor{
				DoctorID:   id,
				Name:       name,
				Department: strings.TrimSpace(department),
				Active:     !inactive,
			}
			if err := st.backend.UpsertDoctor(cmd.Context(), doctor); err != nil {
				return err
			}
			cmd.Printf("doctor %s saved (active=%t)\n", doctor.DoctorID, doctor.Active)
			return nil
		},
	}
	addCmd.Flags().String("id", "", "doctor id")
	addCmd.Flags().String("name", "", "display name")
	addCmd.Flags().String("department", "", "department")
	addCmd.Flags().Bool("inactive", false, "store the doctor as inactive")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List doctors",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openCommandStores(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			doctors, err := st.backend.ListDoctors(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tDEPARTMENT\tACTIVE")
			for _, doctor := range doctors {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", doctor.DoctorID, doctor.Name, doctor.Department, doctor.Active)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(addCmd, listCmd)
	return cmd
}

func openCommandStores(cmd *cobra.Command) (*stores, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.StoreDriver != config.DriverPostgres {
		return nil, fmt.Errorf("doctor management needs STORE_DRIVER=%s", config.DriverPostgres)
	}
	// Counters are not touched by directory commands.
	cfg.CounterDriver = config.DriverPostgres
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return openStores(cmd.Context(), cfg, logging.New(cfg.LogLevel, cfg.LogFormat))
}
