package commands

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/lanchat/lanchat/internal/cli/output"
	"github.com/lanchat/lanchat/internal/protocol/tlv"
	"github.com/spf13/cobra"
)

var (
	discoverGroup   string
	discoverPort    int
	discoverTimeout time.Duration
	discoverOutput  string
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover chat servers on the local network",
	Long: `Send a multicast DISCOVER probe and list the servers that answer.

Every running server replies with its address and TCP chat port.

Examples:
  # Probe the default discovery group
  lanchat discover

  # Wait longer for answers on a slow network
  lanchat discover --timeout 5s

  # Output as JSON
  lanchat discover --output json`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().StringVar(&discoverGroup, "group", "239.0.0.1", "Discovery multicast group")
	discoverCmd.Flags().IntVar(&discoverPort, "port", 5000, "Discovery UDP port")
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", 2*time.Second, "How long to wait for replies")
	discoverCmd.Flags().StringVarP(&discoverOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// DiscoveredServer is one server that answered the probe.
type DiscoveredServer struct {
	Address  string `json:"address" yaml:"address"`
	ChatPort uint16 `json:"chat_port" yaml:"chat_port"`
}

func runDiscover(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(discoverOutput)
	if err != nil {
		return err
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return fmt.Errorf("failed to open UDP socket: %w", err)
	}
	defer func() { _ = conn.Close() }()

	group := net.ParseIP(discoverGroup)
	if group == nil {
		return fmt.Errorf("invalid multicast group: %q", discoverGroup)
	}

	var probe bytes.Buffer
	if err := tlv.WriteRecord(&probe, tlv.TypeDiscover, nil); err != nil {
		return err
	}
	dst := &net.UDPAddr{IP: group, Port: discoverPort}
	if _, err := conn.WriteTo(probe.Bytes(), dst); err != nil {
		return fmt.Errorf("failed to send DISCOVER probe: %w", err)
	}

	deadline := time.Now().Add(discoverTimeout)
	_ = conn.SetReadDeadline(deadline)

	var servers []DiscoveredServer
	seen := make(map[string]bool)
	buf := make([]byte, 256)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			break // deadline reached
		}

		typ, payload, err := tlv.ReadRecord(bytes.NewReader(buf[:n]))
		if err != nil || typ != tlv.TypeServerInfo {
			continue
		}
		info, err := tlv.UnmarshalServerInfo(payload)
		if err != nil {
			continue
		}

		key := info.IP.String() + ":" + strconv.Itoa(int(info.Port))
		if seen[key] {
			continue
		}
		seen[key] = true
		servers = append(servers, DiscoveredServer{
			Address:  info.IP.String(),
			ChatPort: info.Port,
		})
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, servers)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, servers)
	default:
		if len(servers) == 0 {
			fmt.Println("No servers found")
			return nil
		}
		table := output.NewTable("ADDRESS", "CHAT PORT")
		for _, s := range servers {
			table.AddRow(s.Address, strconv.Itoa(int(s.ChatPort)))
		}
		return table.Render(os.Stdout)
	}
}
