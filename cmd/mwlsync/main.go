package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/zorgnet/mwlsync/config"
	"github.com/zorgnet/mwlsync/pacs"
	"github.com/zorgnet/mwlsync/pacs/dcm4chee"
	"github.com/zorgnet/mwlsync/pacs/orthanc"
)

func main() {
	log := zerolog.New(zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) { w.Out = os.Stderr })).With().Timestamp().Caller().Logger()

	root := &cobra.Command{
		Use:          "mwlsync",
		Short:        "Publishes RIS orders as DICOM Modality Worklist items to PACS backends",
		SilenceUsage: true,
	}
	root.AddCommand(newSyncCommand(log))
	root.AddCommand(newFindStudyCommand(log))
	root.AddCommand(newRenameAccessionCommand(log))

	// A completed run reports per-order failures in its output and still
	// exits 0; a non-zero exit means the run could not be set up at all.
	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("Fatal setup error")
		os.Exit(1)
	}
}

// buildPublishers constructs the adapters for the configured target.
func buildPublishers(cfg *config.Config, target string, log zerolog.Logger) ([]pacs.Publisher, error) {
	var publishers []pacs.Publisher

	if target == config.TargetOrthanc || target == config.TargetBoth {
		publishers = append(publishers, orthanc.NewClient(orthanc.Config{
			BaseURL:  cfg.OrthancBaseURL,
			Username: cfg.OrthancUsername,
			Password: cfg.OrthancPassword,
			Timeout:  cfg.HTTPTimeout,
			RetryMax: cfg.OrthancRetryMax,
		}, log))
	}
	if target == config.TargetDcm4chee || target == config.TargetBoth {
		publishers = append(publishers, dcm4chee.NewClient(dcm4chee.Config{
			BaseURL:    cfg.Dcm4cheeBaseURL,
			AETitle:    cfg.Dcm4cheeAETitle,
			CallingAET: cfg.Dcm4cheeCallingAET,
			CalledAET:  cfg.Dcm4cheeCalledAET,
			Timeout:    cfg.HTTPTimeout,
		}, log))
	}
	if len(publishers) == 0 {
		return nil, fmt.Errorf("no backend configured for target %q", target)
	}
	return publishers, nil
}

// buildModifier constructs the repair surface for one named backend.
func buildModifier(cfg *config.Config, backend string, log zerolog.Logger) (pacs.StudyModifier, error) {
	switch backend {
	case pacs.BackendOrthanc:
		if cfg.OrthancBaseURL == "" {
			return nil, fmt.Errorf("ORTHANC_BASE_URL is not configured")
		}
		return orthanc.NewClient(orthanc.Config{
			BaseURL:  cfg.OrthancBaseURL,
			Username: cfg.OrthancUsername,
			Password: cfg.OrthancPassword,
			Timeout:  cfg.HTTPTimeout,
			RetryMax: cfg.OrthancRetryMax,
		}, log), nil
	case pacs.BackendDcm4chee:
		if cfg.Dcm4cheeBaseURL == "" {
			return nil, fmt.Errorf("DCM4CHEE_BASE_URL is not configured")
		}
		return dcm4chee.NewClient(dcm4chee.Config{
			BaseURL:    cfg.Dcm4cheeBaseURL,
			AETitle:    cfg.Dcm4cheeAETitle,
			CallingAET: cfg.Dcm4cheeCallingAET,
			CalledAET:  cfg.Dcm4cheeCalledAET,
			Timeout:    cfg.HTTPTimeout,
		}, log), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}
