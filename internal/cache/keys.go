package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func JobKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

func RateLimitKey(userID uuid.UUID) string {
	return fmt.Sprintf("ratelimit:user:%s", userID)
}
