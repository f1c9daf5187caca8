package genevents

import "time"

// Config holds configuration for the event generator.
type Config struct {
	Brokers    []string      // Kafka brokers; empty means stdout output
	Topic      string        // Kafka topic to produce to
	NumEvents  int           // Number of events to generate
	Candidates int           // Number of distinct candidate IDs
	Challenges int           // Number of distinct challenge IDs
	Workers    int           // Number of concurrent producers
	Timeout    time.Duration // Per-write timeout
	Spread     time.Duration // Event time spread into the past
	LateRatio  float64       // Fraction of events stamped far in the past
	DupRatio   float64       // Fraction of events emitted twice
	Verbose    bool          // Enable verbose logging
}

// Stats holds generator run statistics.
type Stats struct {
	EventsGenerated int
	EventsEmitted   int
	EventsFailed    int
	Duplicates      int
	LateEvents      int
	StartTime       time.Time
	EndTime         time.Time
	Duration        time.Duration
}
