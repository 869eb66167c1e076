package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mel2oo/netshark/aggregate"
	"github.com/mel2oo/netshark/engine"
)

var (
	parseFilter string
	parseStart  int
	parseLimit  int
	showHTTP    bool
	showDNS     bool
	showConvs   bool
	harPath     string
)

var parseCmd = &cobra.Command{
	Use:   "parse <capture-file>",
	Short: "Parse a capture and print its frames and derived views",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inst := engine.New(opts.Engine)
		defer inst.Shutdown()

		info, err := inst.OpenFile(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s, link type %d, %d frames\n\n", info.Path, info.Format, info.LinkType, info.Frames)

		page, err := inst.Frames(parseStart, parseLimit, parseFilter)
		if err != nil {
			return err
		}
		printFrames(page)

		if showConvs {
			convs, err := inst.Conversations("", 0, 0)
			if err != nil {
				return err
			}
			printConversations(convs)
		}
		if showHTTP {
			https, err := inst.HttpConnections("", true, 0, 0)
			if err != nil {
				return err
			}
			printHTTP(https)
		}
		if showDNS {
			dns, err := inst.DnsRecords(true, 0, 0)
			if err != nil {
				return err
			}
			printDNS(dns)
		}
		if harPath != "" {
			harBytes, err := inst.ExportHAR()
			if err != nil {
				return err
			}
			if err := os.WriteFile(harPath, harBytes, 0o644); err != nil {
				return err
			}
			fmt.Printf("\nwrote HAR to %s\n", harPath)
		}
		return nil
	},
}

func init() {
	parseCmd.Flags().StringVar(&parseFilter, "filter", "", "AND-joined protocol tokens, e.g. \"tcp tls\"")
	parseCmd.Flags().IntVar(&parseStart, "start", 0, "first frame row")
	parseCmd.Flags().IntVar(&parseLimit, "limit", 100, "max frame rows (0 = all)")
	parseCmd.Flags().BoolVar(&showConvs, "conversations", false, "print TCP conversations")
	parseCmd.Flags().BoolVar(&showHTTP, "http", false, "print HTTP exchanges")
	parseCmd.Flags().BoolVar(&showDNS, "dns", false, "print DNS records")
	parseCmd.Flags().StringVar(&harPath, "har", "", "write paired HTTP exchanges to a HAR file")
}

func printFrames(page aggregate.Page) {
	frames, _ := page.Items.([]engine.FrameInfo)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "No.\tTime\tLen\tSummary\n")
	for _, fr := range frames {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", fr.Index, fr.CapturedAt.Format("15:04:05.000000"), fr.CapturedLen, fr.Summary)
	}
	w.Flush()
	fmt.Printf("(%d of %d frames)\n", len(frames), page.Total)
}

func printConversations(page aggregate.Page) {
	conns, _ := page.Items.([]*aggregate.Connection)
	fmt.Printf("\nTCP conversations (%d):\n", page.Total)
	for _, c := range conns {
		fmt.Printf("  %s  fwd %d pkts / %d bytes, rev %d pkts / %d bytes\n",
			c.Key, c.Forward.Count, c.Forward.Bytes, c.Reverse.Count, c.Reverse.Bytes)
	}
}

func printHTTP(page aggregate.Page) {
	exchanges, _ := page.Items.([]aggregate.HttpExchange)
	fmt.Printf("\nHTTP exchanges (%d):\n", page.Total)
	for _, ex := range exchanges {
		fmt.Printf("  %s %s%s -> %d %s (%.1fms)\n",
			ex.Method, ex.Hostname, ex.Path, ex.StatusCode, ex.ContentType,
			float64(ex.Latency.Microseconds())/1000)
	}
}

func printDNS(page aggregate.Page) {
	records, _ := page.Items.([]aggregate.DNSRecord)
	fmt.Printf("\nDNS records (%d):\n", page.Total)
	for _, r := range records {
		fmt.Printf("  %s %s TTL=%d %s\n", r.Name, r.Type, r.TTL, r.Value)
	}
}
