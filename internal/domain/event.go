package domain

import "time"

// EventType names a ledger state change observed by subscribers.
type EventType string

const (
	EventPoolIssued              EventType = "PoolIssued"
	EventLiquidityAdded          EventType = "LiquidityAdded"
	EventLiquidityRemoved        EventType = "LiquidityRemoved"
	EventOfferFilled             EventType = "OfferFilled"
	EventOfferCancelled          EventType = "OfferCancelled"
	EventStatusChanged           EventType = "StatusChanged"
	EventPositionTokenRedeemed   EventType = "PositionTokenRedeemed"
	EventFeeClaimAllocated       EventType = "FeeClaimAllocated"
	EventFeeClaimed              EventType = "FeeClaimed"
	EventFeeClaimTransferred     EventType = "FeeClaimTransferred"
	EventFeesUpdated             EventType = "FeesUpdated"
	EventFeesUpdateRevoked       EventType = "FeesUpdateRevoked"
	EventSettlementPeriodUpdated EventType = "SettlementPeriodUpdated"
	EventSettlementPeriodRevoked EventType = "SettlementPeriodUpdateRevoked"
	EventTreasuryUpdated         EventType = "TreasuryUpdated"
	EventTreasuryUpdateRevoked   EventType = "TreasuryUpdateRevoked"
	EventFallbackProviderUpdated EventType = "FallbackDataProviderUpdated"
	EventFallbackProviderRevoked EventType = "FallbackDataProviderUpdateRevoked"
	EventStaked                  EventType = "Staked"
	EventUnstaked                EventType = "Unstaked"
	EventElectionCycleTriggered  EventType = "ElectionCycleTriggered"
	EventOwnershipClaimSubmitted EventType = "OwnershipClaimSubmitted"
	EventOwnerSet                EventType = "OwnerSet"
)

// Event is a single ledger event. Attrs carry addresses as checksummed
// hex, hashes as 0x hex and amounts as decimal strings.
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Timestamp uint64            `json:"timestamp"`
	Attrs     map[string]string `json:"attrs"`
}

// EventRecord is a persisted event.
type EventRecord struct {
	Seq        int64
	Event      Event
	RecordedAt time.Time
}
