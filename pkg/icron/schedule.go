package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour |
	cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Parser accepts five or six field expressions and descriptors such as "@every 1m".
func Parser() cron.Parser {
	return parser
}

func Parse(expr string) (cron.Schedule, error) {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule, nil
}

type TriggerInfo struct {
	Expression    string        `json:"expression"`
	Next          time.Time     `json:"next"`
	TimeUntilNext time.Duration `json:"time_until_next"`
}

func GetTriggerInfo(expr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	next := schedule.Next(refTime)
	return &TriggerInfo{
		Expression:    expr,
		Next:          next,
		TimeUntilNext: next.Sub(refTime),
	}, nil
}
