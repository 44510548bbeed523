package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"

	"github.com/vapter/vapter/pkg/storage"
	"github.com/vapter/vapter/pkg/types"
)

var (
	dataDir = flag.String("data-dir", "/var/lib/vapter", "Vapter data directory")
	dryRun  = flag.Bool("dry-run", false, "Show what would be seeded without writing anything")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Vapter Data Directory Seeder")
	log.Println("============================")

	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	store, err := storage.NewBoltStore(*dataDir)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	log.Printf("Database: %s/vapter.db", *dataDir)
	log.Printf("Dry run: %v", *dryRun)

	portListIDs, err := seedPortLists(store, *dryRun)
	if err != nil {
		log.Fatalf("Failed to seed port lists: %v", err)
	}

	if err := seedScanTypes(store, portListIDs, *dryRun); err != nil {
		log.Fatalf("Failed to seed scan types: %v", err)
	}

	if *dryRun {
		log.Println("\nDry run completed. No data was seeded.")
		log.Println("Run without --dry-run to seed the database.")
	} else {
		log.Println("\n✓ Seeding completed successfully!")
	}
}

// stockPortList is a port list every fresh install starts with
type stockPortList struct {
	name        string
	tcpPorts    string
	udpPorts    string
	description string
}

var stockPortLists = []stockPortList{
	{
		name:        "Common TCP Ports",
		tcpPorts:    "21-23,25,53,80,110,111,135,139,143,443,445,993,995,1723,3306,3389,5432,5900,8080,8443",
		description: "The TCP services most often exposed on a network edge",
	},
	{
		name:        "Full TCP",
		tcpPorts:    "1-65535",
		description: "Every TCP port. Slow but thorough",
	},
	{
		name:        "Web Ports",
		tcpPorts:    "80,443,8000-8099,8443,8888",
		description: "HTTP and HTTPS service ports",
	},
	{
		name:        "Common UDP Ports",
		udpPorts:    "53,67-69,123,137-139,161,162,500,514,1900,4500,5353",
		description: "DNS, DHCP, NTP, SNMP and other common UDP services",
	},
}

type stockScanType struct {
	name          string
	portList      string
	onlyDiscovery bool
	fingerprint   bool
	vulnEngine    bool
	web           bool
	vulnLookup    bool
	report        bool
	description   string
}

var stockScanTypes = []stockScanType{
	{
		name:          "Discovery",
		onlyDiscovery: true,
		description:   "Host discovery only. Confirms which targets are alive",
	},
	{
		name:        "Quick Scan",
		portList:    "Common TCP Ports",
		fingerprint: true,
		report:      true,
		description: "Port scan and service fingerprinting of common ports",
	},
	{
		name:        "Web Audit",
		portList:    "Web Ports",
		fingerprint: true,
		web:         true,
		report:      true,
		description: "Service fingerprinting and web checks on HTTP ports",
	},
	{
		name:        "Full Audit",
		portList:    "Full TCP",
		fingerprint: true,
		vulnEngine:  true,
		vulnLookup:  true,
		report:      true,
		description: "Full port range with engine-backed vulnerability assessment",
	},
}

func seedPortLists(store *storage.BoltStore, dryRun bool) (map[string]string, error) {
	ids := make(map[string]string, len(stockPortLists))

	log.Println("\nSeeding port lists...")
	for _, stock := range stockPortLists {
		existing, err := store.GetPortListByName(stock.name)
		if err == nil {
			log.Printf("✓ Port list %q already exists (ID: %s)", stock.name, existing.ID)
			ids[stock.name] = existing.ID
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}

		if dryRun {
			log.Printf("[DRY RUN] Would create port list %q", stock.name)
			continue
		}

		portList := &types.PortList{
			ID:          uuid.New().String(),
			Name:        stock.name,
			TCPPorts:    stock.tcpPorts,
			UDPPorts:    stock.udpPorts,
			Description: stock.description,
		}
		if err := store.CreatePortList(portList); err != nil {
			return nil, fmt.Errorf("failed to create port list %q: %w", stock.name, err)
		}
		log.Printf("✓ Port list created: %s (ID: %s)", portList.Name, portList.ID)
		ids[stock.name] = portList.ID
	}

	return ids, nil
}

func seedScanTypes(store *storage.BoltStore, portListIDs map[string]string, dryRun bool) error {
	log.Println("\nSeeding scan types...")
	for _, stock := range stockScanTypes {
		if existing, err := store.GetScanTypeByName(stock.name); err == nil {
			log.Printf("✓ Scan type %q already exists (ID: %s)", stock.name, existing.ID)
			continue
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		if dryRun {
			log.Printf("[DRY RUN] Would create scan type %q", stock.name)
			continue
		}

		portListID := ""
		if stock.portList != "" {
			id, ok := portListIDs[stock.portList]
			if !ok {
				return fmt.Errorf("scan type %q references unknown port list %q", stock.name, stock.portList)
			}
			portListID = id
		}

		scanType := &types.ScanType{
			ID:                uuid.New().String(),
			Name:              stock.name,
			OnlyDiscovery:     stock.onlyDiscovery,
			PortListID:        portListID,
			PluginFingerprint: stock.fingerprint,
			PluginVulnEngine:  stock.vulnEngine,
			PluginWeb:         stock.web,
			PluginVulnLookup:  stock.vulnLookup,
			ReportEnabled:     stock.report,
			Description:       stock.description,
		}
		if err := store.CreateScanType(scanType); err != nil {
			return fmt.Errorf("failed to create scan type %q: %w", stock.name, err)
		}
		log.Printf("✓ Scan type created: %s (ID: %s)", scanType.Name, scanType.ID)
	}

	return nil
}
