package spawn

import "fmt"

// Captioner builds the text shown with announcements.
type Captioner interface {
	// Announce returns the caption for a new drop. It must not reveal the name.
	Announce(e Entity) string

	// Claimed returns the caption after claimantID claimed drop.
	Claimed(drop DropRecord, claimantID int64) string
}

type defaultCaptioner struct{}

func (defaultCaptioner) Announce(e Entity) string {
	return fmt.Sprintf("A wild %s character appeared! Guess its name to claim it.", e.Rarity)
}

func (defaultCaptioner) Claimed(drop DropRecord, claimantID int64) string {
	return fmt.Sprintf("%s (%s) was claimed by %d.", drop.DisplayName, drop.Rarity, claimantID)
}
