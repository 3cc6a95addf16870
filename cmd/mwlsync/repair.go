package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/zorgnet/mwlsync/config"
	"github.com/zorgnet/mwlsync/pacs"
	"github.com/zorgnet/mwlsync/repair"
)

func newFindStudyCommand(log zerolog.Logger) *cobra.Command {
	var backend string

	cmd := &cobra.Command{
		Use:   "find-study <accession-number>",
		Short: "Look up a study on a backend by accession number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildRepairService(backend, log)
			if err != nil {
				return err
			}

			ref, err := svc.FindStudyByAccession(cmd.Context(), args[0])
			if errors.Is(err, pacs.ErrNotFound) {
				fmt.Printf("no study found for accession %s\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}

			out, _ := json.MarshalIndent(ref, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&backend, "backend", pacs.BackendOrthanc, "backend to query: orthanc or dcm4chee")
	return cmd
}

func newRenameAccessionCommand(log zerolog.Logger) *cobra.Command {
	var backend string

	cmd := &cobra.Command{
		Use:   "rename-accession <study-id> <new-accession-number>",
		Short: "Rewrite the accession number of an already published study",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildRepairService(backend, log)
			if err != nil {
				return err
			}

			newID, err := svc.RenameAccession(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("study %s now carries accession %s (study id %s)\n", args[0], args[1], newID)
			return nil
		},
	}

	cmd.Flags().StringVar(&backend, "backend", pacs.BackendOrthanc, "backend to modify: orthanc or dcm4chee")
	return cmd
}

func buildRepairService(backend string, log zerolog.Logger) (*repair.Service, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	modifier, err := buildModifier(cfg, backend, log)
	if err != nil {
		return nil, err
	}
	return repair.NewService(modifier, log)
}
