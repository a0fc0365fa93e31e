package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/newtron-network/nbseed/pkg/cli"
	"github.com/newtron-network/nbseed/pkg/reconcile"
)

var planDump bool

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what the topology expands to, without contacting NetBox",
	Long: `Show what the topology expands to, without contacting NetBox.

Lists the steps apply runs, the devices with their ASNs, the spine-leaf
links and the VLANs. Interface names use each device type's configured
prefix; apply discovers the real prefix from NetBox.

Examples:
  nbseed plan
  nbseed plan -c lab.yaml --json
  nbseed plan --dump > lab.yaml     # start a document from the built-in lab`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := loadDocument()
		if err != nil {
			return err
		}
		if planDump {
			data, err := doc.Marshal()
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		}

		p, err := reconcile.NewPlan(doc)
		if err != nil {
			return err
		}
		if app.jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		}

		fmt.Printf("Topology: %s\n\n", cli.Bold(p.Document))

		fmt.Println(cli.Bold("Steps"))
		for i, s := range p.Steps {
			fmt.Printf("  %2d. %s\n", i+1, s)
		}
		fmt.Println()

		fmt.Println(cli.Bold("Devices"))
		t := cli.NewTable("NAME", "TIER", "ROLE", "TYPE", "SITE", "ASN").WithPrefix("  ")
		for _, d := range p.Devices {
			t.Row(d.Name, string(d.Tier), d.Role, d.DeviceType, d.Site, strconv.FormatInt(d.ASN, 10))
		}
		t.Flush()
		fmt.Println()

		fmt.Println(cli.Bold("Links"))
		t = cli.NewTable("SPINE", "INTERFACE", "LEAF", "INTERFACE").WithPrefix("  ")
		for _, l := range p.Links {
			t.Row(l.Spine, l.SpineInterface, l.Leaf, l.LeafInterface)
		}
		t.Flush()
		fmt.Println()

		fmt.Println(cli.Bold("Prefixes"))
		t = cli.NewTable("ROLE", "PREFIX", "CHILDREN").WithPrefix("  ")
		for _, pf := range p.Prefixes {
			t.Row(pf.Role, pf.Prefix, fmt.Sprintf("%d x /%d", pf.Children, pf.ChildLength))
		}
		t.Flush()

		if len(p.VLANs) > 0 {
			fmt.Println()
			fmt.Println(cli.Bold("VLANs"))
			t = cli.NewTable("NAME", "VID", "VNI", "L2VPN", "SITE").WithPrefix("  ")
			for _, v := range p.VLANs {
				vni := "-"
				if v.VNI != 0 {
					vni = strconv.Itoa(v.VNI)
				}
				t.Row(v.Name, strconv.Itoa(v.VID), vni, dash(v.L2VPN), dash(v.Site))
			}
			t.Flush()
		}
		return nil
	},
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	planCmd.Flags().BoolVar(&planDump, "dump", false, "Print the topology document as YAML")
	planCmd.Flags().BoolVar(&app.jsonOutput, "json", false, "JSON output")
}
