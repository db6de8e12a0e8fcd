package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/fusebridge/internal/errx"
	"github.com/jingkaihe/fusebridge/pkg/trace"
)

var statsCmd = &cobra.Command{
	Use:   "stats <trace>",
	Short: "Summarise requests, replies and errors per opcode",
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().Bool("json", false, "Print JSON instead of a table")
	viper.BindPFlag("stats.json", statsCmd.Flags().Lookup("json"))

	rootCmd.AddCommand(statsCmd)
}

type opStatsJSON struct {
	Opcode   string `json:"opcode"`
	Requests int    `json:"requests"`
	Replies  int    `json:"replies"`
	Errors   int    `json:"errors"`
}

type statsJSON struct {
	Session    string        `json:"session"`
	Frames     int           `json:"frames"`
	Malformed  int           `json:"malformed"`
	Rejected   int           `json:"rejected"`
	Orphans    int           `json:"orphans"`
	Unanswered int           `json:"unanswered"`
	Ops        []opStatsJSON `json:"ops"`
}

func runStats(cmd *cobra.Command, args []string) error {
	f, r, err := openTrace(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := trace.Collect(r)
	if err != nil {
		return errx.Wrap(ErrReadTrace, err)
	}

	out := cmd.OutOrStdout()
	if viper.GetBool("stats.json") {
		doc := statsJSON{
			Session:    r.Header().Session.String(),
			Frames:     st.Frames,
			Malformed:  st.Malformed,
			Rejected:   st.Rejected,
			Orphans:    st.Orphans,
			Unanswered: st.Unanswered(),
			Ops:        []opStatsJSON{},
		}
		for _, o := range st.Ops() {
			doc.Ops = append(doc.Ops, opStatsJSON{Opcode: o.Opcode.String(), Requests: o.Requests, Replies: o.Replies, Errors: o.Errors})
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return errx.Wrap(ErrEncodeJSON, err)
		}
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OPCODE\tREQUESTS\tREPLIES\tERRORS")
	for _, o := range st.Ops() {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", o.Opcode, o.Requests, o.Replies, o.Errors)
	}
	w.Flush()
	fmt.Fprintf(out, "\n%d frames, %d unanswered, %d rejected, %d malformed, %d orphan replies\n",
		st.Frames, st.Unanswered(), st.Rejected, st.Malformed, st.Orphans)
	return nil
}
