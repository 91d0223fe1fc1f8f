package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telekom/signature-relay/pkg/signature"
)

// ValidationResult is printed by `sigctl validate` for an accepted payload.
type ValidationResult struct {
	Valid      bool   `json:"valid" yaml:"valid"`
	Name       string `json:"name" yaml:"name"`
	IDNumber   string `json:"idNumber,omitempty" yaml:"idNumber,omitempty"`
	ImageBytes int    `json:"imageBytes" yaml:"imageBytes"`
}

func (r ValidationResult) String() string {
	s := fmt.Sprintf("valid: name=%q image=%d bytes", r.Name, r.ImageBytes)
	if r.IDNumber != "" {
		s += fmt.Sprintf(" id=%q", r.IDNumber)
	}
	return s
}

func NewValidateCommand() *cobra.Command {
	var (
		file       string
		limits     = signature.DefaultLimits()
		skipVerify bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a signature payload offline with the relay's rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			raw, err := readPayloadFile(file, rt.Reader())
			if err != nil {
				return err
			}
			req, err := toRequest(raw)
			if err != nil {
				return err
			}

			limits.VerifyImage = !skipVerify
			payload, err := signature.Validate(req, limits)
			if err != nil {
				if ve, ok := signature.AsValidationError(err); ok {
					return fmt.Errorf("invalid payload (%s): %s", ve.Reason, ve.Message)
				}
				return err
			}

			return rt.Write(ValidationResult{
				Valid:      true,
				Name:       payload.Name,
				IDNumber:   payload.IDNumber,
				ImageBytes: len(payload.Image),
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Payload JSON file, - for stdin")
	cmd.Flags().IntVar(&limits.MinBytes, "min-bytes", limits.MinBytes, "Smallest accepted image size")
	cmd.Flags().IntVar(&limits.MaxBytes, "max-bytes", limits.MaxBytes, "Largest accepted image size")
	cmd.Flags().BoolVar(&skipVerify, "skip-image-verification", false, "Do not require a PNG header")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
