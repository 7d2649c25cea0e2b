package guard

import (
	"context"
	"errors"
	"fmt"

	"github.com/xelth-com/sensestamp/internal/models"
)

// DuplicateWindow is the half-width, in seconds, of the window in which a
// second scan of the same tag by the same device is treated as a replay.
//
// Two genuine taps inside the window cannot be told apart from a replay, and
// two concurrent identical submissions can both pass this check before either
// is stored. Neither gap is closed here.
const DuplicateWindow int64 = 10

// EventFinder looks up an event of deviceCode/tagUID with a timestamp in
// [from, to]. It returns models.ErrNotFound when there is none.
type EventFinder interface {
	FindRecentEvent(ctx context.Context, deviceCode, tagUID string, from, to int64) (*models.Event, error)
}

// CheckDuplicate returns the id of an already stored event that the given
// scan duplicates, or "" when the scan is new.
func CheckDuplicate(ctx context.Context, finder EventFinder, deviceCode, tagUID string, ts int64) (string, error) {
	existing, err := finder.FindRecentEvent(ctx, deviceCode, tagUID, ts-DuplicateWindow, ts+DuplicateWindow)
	switch {
	case errors.Is(err, models.ErrNotFound):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("querying recent events: %w", err)
	}
	return existing.ID, nil
}
