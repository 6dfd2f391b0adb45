package command

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"

	cargoapk "github.com/frantjc/cargo-apk"
	"github.com/frantjc/cargo-apk/internal/apkerr"
	xslice "github.com/frantjc/x/slice"
	"github.com/spf13/cobra"
)

const (
	MessageFormatHuman = "human"
	MessageFormatJSON  = "json"

	EnvVerbose = "CARGO_APK_VERBOSE"
)

// SetCommon adds the flags every cargo-apk command shares and sets up
// the logger they log to.
func SetCommon(cmd *cobra.Command, version string) *cobra.Command {
	var (
		verbosity     int
		quiet         bool
		messageFormat string
	)

	cmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", fmt.Sprintf("Verbosity for %s.", cmd.Name()))
	cmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Only log errors.")
	cmd.PersistentFlags().StringVar(&messageFormat, "message-format", MessageFormatHuman, "Output format, human or json.")
	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if !xslice.Includes([]string{MessageFormatHuman, MessageFormatJSON}, messageFormat) {
			return apkerr.New(apkerr.Config, fmt.Errorf("invalid --message-format %q", messageFormat))
		}

		// Warnings are written unless --quiet.
		verbosity++

		if verbose := os.Getenv(EnvVerbose); verbose != "" && verbosity < 2 && xslice.Some([]string{"1", "y", "yes", "true", "t"}, func(s string, _ int) bool {
			return strings.EqualFold(s, verbose)
		}) {
			verbosity = 2
		}

		if quiet {
			verbosity = 0
		}

		log := cargoapk.NewLogger(cmd.ErrOrStderr(), verbosity)
		if messageFormat == MessageFormatJSON {
			log = cargoapk.NewJSONLogger(cmd.ErrOrStderr(), verbosity)
		}

		cmd.SetContext(cargoapk.WithLogger(cmd.Context(), log))

		return nil
	}

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	cmd.Version = version
	cmd.SetVersionTemplate("{{ .Name }}{{ .Version }} " + runtime.Version() + "\n")

	return cmd
}

// TrimCargoSubcommand drops the "apk" that cargo passes as the first
// argument when it runs cargo-apk as `cargo apk`.
func TrimCargoSubcommand(args []string) []string {
	if len(args) > 0 && args[0] == "apk" {
		return args[1:]
	}

	return args
}

// PrintError writes err to cmd's stderr in the format of its
// --message-format flag.
func PrintError(cmd *cobra.Command, err error) {
	w := cmd.ErrOrStderr()

	if flag := cmd.Flag("message-format"); flag != nil && flag.Value.String() == MessageFormatJSON {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"reason":  "error",
			"kind":    apkerr.KindOf(err).Error(),
			"message": err.Error(),
		})
		return
	}

	fmt.Fprintln(w, "error: "+err.Error())
}
