package helpers

import "fmt"

// GetRecommendedMemoryLimit calculates a safe memory budget for the in-memory
// buffers. Policy: 75% of total RAM, floor 512MB (total RAM itself on
// machines with less), fallback 512MB when the platform probe fails.
func GetRecommendedMemoryLimit() int {
	totalMB := GetTotalSystemMemoryMB()
	if totalMB == 0 {
		fmt.Println("Warning: Could not determine system memory. Defaulting to 512MB.")
		return 512
	}

	limit := int(float64(totalMB) * 0.75)

	if limit < 512 {
		if totalMB < 512 {
			return totalMB // Very low memory system
		}
		return 512
	}

	return limit
}
