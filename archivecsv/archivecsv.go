// Package archivecsv exports an archived leaderboard as CSV, one row per
// wallet in final rank order.
package archivecsv

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/ts4z/cyclepot/model"
)

var Header = []string{"rank", "wallet_address", "player_name", "score", "submitted_at", "cycle_start", "cycle_end"}

func millis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}

// Write expects scores already ranked, as FetchArchive returns them.  IP
// addresses are never exported.
func Write(w io.Writer, scores []*model.ArchivedScore) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for i, s := range scores {
		row := []string{
			strconv.Itoa(i + 1),
			s.WalletAddress,
			s.PlayerName,
			strconv.Itoa(s.Score),
			millis(s.Timestamp),
			millis(s.CycleStart),
			millis(s.CycleEnd),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
