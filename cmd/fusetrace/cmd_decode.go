package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/fusebridge/internal/errx"
	"github.com/jingkaihe/fusebridge/pkg/trace"
)

var decodeCmd = &cobra.Command{
	Use:   "decode <trace>",
	Short: "Print one line per recorded frame",
	Args:  cobra.ExactArgs(1),
	RunE:  runDecode,
}

func init() {
	decodeCmd.Flags().Int("limit", 0, "Stop after this many frames (0 for all)")
	decodeCmd.Flags().Bool("hex", false, "Dump frame bytes after each line")
	viper.BindPFlag("decode.limit", decodeCmd.Flags().Lookup("limit"))
	viper.BindPFlag("decode.hex", decodeCmd.Flags().Lookup("hex"))

	rootCmd.AddCommand(decodeCmd)
}

// openTrace opens path and reads its header. The caller closes the file.
func openTrace(path string) (*os.File, *trace.Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errx.Wrap(ErrOpenTrace, err)
	}
	r, err := trace.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, errx.Wrap(ErrReadTrace, err)
	}
	return f, r, nil
}

func runDecode(cmd *cobra.Command, args []string) error {
	limit := viper.GetInt("decode.limit")
	dump := viper.GetBool("decode.hex")

	f, r, err := openTrace(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	out := cmd.OutOrStdout()
	hdr := r.Header()
	fmt.Fprintf(out, "session %s (fusebridge %s, started %s)\n", hdr.Session, hdr.Version, hdr.Started.Format("2006-01-02 15:04:05.000"))

	n := 0
	err = r.Each(func(fr trace.Frame) error {
		if limit > 0 && n == limit {
			return errStop
		}
		n++
		fmt.Fprintln(out, trace.Summarize(fr))
		if dump {
			fmt.Fprint(out, hex.Dump(fr.Data))
		}
		return nil
	})
	if err != nil && err != errStop {
		return errx.Wrap(ErrReadTrace, err)
	}
	return nil
}
