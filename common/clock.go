package common

import (
	"time"

	"github.com/ethpandaops/ethwallclock"
)

// Clock tells the bridge where it is on the slot timeline
type Clock interface {
	CurrentSlot() uint64
	// SlotDeadline is the latest point in time a block for the slot can still be produced
	SlotDeadline(slot uint64) time.Time
}

// WallClock is a Clock backed by the beacon chain wall clock
type WallClock struct {
	genesis time.Time
	chain   *ethwallclock.EthereumBeaconChain
}

func NewWallClock(genesis time.Time, durationPerSlot time.Duration, slotsPerEpoch uint64) *WallClock {
	return &WallClock{
		genesis: genesis,
		chain:   ethwallclock.NewEthereumBeaconChain(genesis, durationPerSlot, slotsPerEpoch),
	}
}

func (c *WallClock) CurrentSlot() uint64 {
	if time.Now().Before(c.genesis) {
		return 0
	}
	slot, _, err := c.chain.Now()
	if err != nil {
		return 0
	}
	return slot.Number()
}

func (c *WallClock) SlotDeadline(slot uint64) time.Time {
	s := c.chain.Slots().FromNumber(slot)
	return s.TimeWindow().End()
}

// OnSlotChanged registers a callback that fires at the start of every slot
func (c *WallClock) OnSlotChanged(fn func(slot uint64)) {
	c.chain.OnSlotChanged(func(slot ethwallclock.Slot) {
		fn(slot.Number())
	})
}

func (c *WallClock) Stop() {
	c.chain.Stop()
}

// FixedClock is a Clock with a fixed slot and a fixed time budget per slot, used in tests and tooling
type FixedClock struct {
	Slot     uint64
	Deadline time.Time
}

func (c *FixedClock) CurrentSlot() uint64 {
	return c.Slot
}

func (c *FixedClock) SlotDeadline(slot uint64) time.Time {
	if c.Deadline.IsZero() {
		return time.Now().Add(DurationPerSlot)
	}
	return c.Deadline
}
