package sheet

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/edumark/sheetscan/pkg/models"
)

// WriteCSV streams a participant roster as CSV with a header row.
func WriteCSV(w io.Writer, participants []*models.Participant) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"user_id", "userkey", "last_name", "first_name", "checked"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, p := range participants {
		record := []string{
			p.UserID,
			strconv.FormatUint(uint64(p.Userkey), 10),
			p.LastName,
			p.FirstName,
			strconv.FormatBool(p.Checked),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
