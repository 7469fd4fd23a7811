// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package gpu models the host's GPU fleet: per-card memory accounting from
// the vendor tool, host RAM accounting, free-card selection, and the
// kernel launch wrapper the workers run on.
package gpu

import (
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"
	humanize "github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/gstream/gstream/structs"
)

// gpuQueryArgs is the vendor tool invocation producing one CSV line per
// device: uuid, bus id, used MB, free MB, total MB.
var gpuQueryArgs = []string{
	"--query-gpu=uuid,gpu_bus_id,memory.used,memory.free,memory.total",
	"--format=csv,noheader,nounits",
}

const gpuQueryTool = "nvidia-smi"

// CardInfo is the vendor tool's view of one card.
type CardInfo struct {
	UUID   string
	BusID  int
	Memory MemoryInfo
}

// ParseCardInfoLine parses one CSV line of the vendor tool output. Lines
// that do not parse are skipped, not errors.
func ParseCardInfoLine(line string) (*CardInfo, bool) {
	fields := strings.Split(line, ", ")
	if len(fields) < 5 {
		return nil, false
	}

	uuid := strings.TrimSpace(fields[0])
	busParts := strings.Split(fields[1], ":")
	if len(busParts) < 2 {
		return nil, false
	}
	busID, err := strconv.Atoi(busParts[1])
	if err != nil {
		return nil, false
	}

	var sizes [3]int
	for i, field := range fields[2:5] {
		sizes[i], err = strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return nil, false
		}
	}

	// Bias the vendor numbers conservatively: a card never looks emptier
	// than it is.
	used, total := sizes[0], sizes[2]
	return &CardInfo{
		UUID:  uuid,
		BusID: busID,
		Memory: MemoryInfo{
			Used:  MB(used + 1),
			Total: MB(max(0, total-1)),
		},
	}, true
}

// QueryCardsFunc produces the current card inventory.
type QueryCardsFunc func() ([]*CardInfo, error)

// RAMInfoFunc produces the current host memory snapshot.
type RAMInfoFunc func() (MemoryInfo, error)

// queryCards shells out to the vendor tool. A missing tool yields an empty
// inventory.
func queryCards() ([]*CardInfo, error) {
	out, err := exec.Command(gpuQueryTool, gpuQueryArgs...).Output()
	if err != nil {
		return nil, nil
	}

	var cards []*CardInfo
	for _, line := range strings.Split(string(out), "\n") {
		if line == "" {
			continue
		}
		if info, ok := ParseCardInfoLine(line); ok {
			cards = append(cards, info)
		}
	}
	return cards, nil
}

// hostRAM reads the OS memory report. Used is total minus free, matching
// the admission model rather than the kernel's cache-adjusted figure.
func hostRAM() (MemoryInfo, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return MemoryInfo{}, err
	}
	return MemoryInfo{Total: vm.Total, Used: vm.Total - vm.Free}, nil
}

// RigConfig wires a Rig. Zero-value fields fall back to the production
// implementations.
type RigConfig struct {
	Logger     hclog.Logger
	Platform   Platform
	QueryCards QueryCardsFunc
	RAMInfo    RAMInfoFunc
}

// Rig is the inventory of GPU cards on this host.
type Rig struct {
	cards      []*Card
	queryCards QueryCardsFunc
	ramInfo    RAMInfoFunc
	logger     hclog.Logger
}

// NewRig enumerates the runtime devices and joins them against the vendor
// tool inventory by bus id. Devices the tool does not report are skipped.
func NewRig(cfg *RigConfig) (*Rig, error) {
	if cfg == nil {
		cfg = &RigConfig{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("gpu_rig")

	platform := cfg.Platform
	if platform == nil {
		platform = DefaultPlatform()
	}
	query := cfg.QueryCards
	if query == nil {
		query = queryCards
	}
	ram := cfg.RAMInfo
	if ram == nil {
		ram = hostRAM
	}

	devices, err := platform.GPUDevices()
	if err != nil {
		// Hosts without a compute runtime still run the scheduler; only
		// kernel launches need cards.
		logger.Warn("no compute runtime, rig has no cards", "error", err)
		devices = nil
	}

	rig := &Rig{queryCards: query, ramInfo: ram, logger: logger}
	for _, device := range devices {
		card, err := newCard(device, rig, logger)
		if err != nil {
			logger.Warn("skipping device without inventory entry", "error", err)
			continue
		}
		logger.Debug("card activated", "uuid", card.UUID(), "bus_id", card.BusID(),
			"total", humanize.IBytes(cardTotal(card)))
		rig.cards = append(rig.cards, card)
	}
	return rig, nil
}

func cardTotal(c *Card) uint64 {
	info, err := c.MemoryInfo()
	if err != nil {
		return 0
	}
	return info.Total
}

// Cards returns the card inventory.
func (r *Rig) Cards() []*Card {
	return r.cards
}

// CardsCount returns the inventory size.
func (r *Rig) CardsCount() int {
	return len(r.cards)
}

// CPUCores returns the host logical core count, the global cap on
// concurrently running tasks.
func (r *Rig) CPUCores() int {
	return runtime.NumCPU()
}

// RAMInfo returns the current host memory snapshot.
func (r *Rig) RAMInfo() (MemoryInfo, error) {
	return r.ramInfo()
}

// IsAvailableRAMMemory reports whether host admission memory remains.
func (r *Rig) IsAvailableRAMMemory() bool {
	info, err := r.ramInfo()
	if err != nil {
		return false
	}
	return info.Permitted() > 0
}

// cardInfo resolves the current vendor inventory entry for a bus id.
func (r *Rig) cardInfo(busID int) (*CardInfo, error) {
	infos, err := r.queryCards()
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		if info.BusID == busID {
			return info, nil
		}
	}
	return nil, fmt.Errorf("%w: bus id %d", structs.ErrCardNotFound, busID)
}

// GetCardByBusID returns the card on the given PCI bus.
func (r *Rig) GetCardByBusID(busID int) (*Card, error) {
	for _, card := range r.cards {
		if card.BusID() == busID {
			return card, nil
		}
	}
	return nil, fmt.Errorf("%w: bus id %d", structs.ErrCardNotFound, busID)
}

// GetCardByUUID returns the card with the given vendor uuid.
func (r *Rig) GetCardByUUID(uuid string) (*Card, error) {
	for _, card := range r.cards {
		if card.UUID() == uuid {
			return card, nil
		}
	}
	return nil, fmt.Errorf("%w: uuid %s", structs.ErrCardNotFound, uuid)
}

// GetFreeGPUCard returns the first card with admission headroom and more
// free memory than the task requires.
func (r *Rig) GetFreeGPUCard(requiredBytes uint64) (*Card, error) {
	for _, card := range r.cards {
		info, err := card.MemoryInfo()
		if err != nil {
			continue
		}
		if info.Permitted() == 0 {
			continue
		}
		if info.Free() > requiredBytes {
			return card, nil
		}
	}
	return nil, structs.ErrNoFreeGPU
}
