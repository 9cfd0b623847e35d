package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

func ErrorReportKey(subjectID uuid.UUID, filterHash string) string {
	return fmt.Sprintf("errorreport:%s:%s", subjectID, filterHash)
}

func RateLimitKey(remoteAddr string) string {
	return fmt.Sprintf("ratelimit:%s", remoteAddr)
}
