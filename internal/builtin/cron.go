package builtin

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/macrocore/internal/segment"
	"github.com/rendis/macrocore/pkg/schema"
)

const CronConditionID = "cron"

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// CronCondition matches once for every firing of a cron schedule since the
// previous check.
type CronCondition struct {
	segment.ConditionBase
	Expression string `json:"expression"`

	d         *Deps
	mu        sync.Mutex
	parsed    string
	schedule  cron.Schedule
	lastCheck time.Time
}

func newCronCondition(d *Deps, o segment.Owner) *CronCondition {
	c := &CronCondition{
		ConditionBase: segment.NewConditionBase(CronConditionID, o),
		Expression:    "* * * * *",
		d:             d,
	}
	c.TempVars().Declare("next", "Next run", "Time of the next scheduled firing")
	return c
}

func (c *CronCondition) Check(context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.schedule == nil || c.parsed != c.Expression {
		sched, err := cronParser.Parse(c.Expression)
		if err != nil {
			return false, schema.NewErrorf(schema.ErrCodeValidation, "invalid cron expression %q", c.Expression).WithCause(err)
		}
		c.schedule = sched
		c.parsed = c.Expression
		c.lastCheck = time.Time{}
	}

	now := c.d.Clock.Now()
	if c.lastCheck.IsZero() {
		c.lastCheck = now
		c.TempVars().Set("next", c.schedule.Next(now).Format(time.RFC3339))
		return false, nil
	}

	next := c.schedule.Next(c.lastCheck)
	fired := !next.After(now)
	c.lastCheck = now
	c.TempVars().Set("next", c.schedule.Next(now).Format(time.RFC3339))
	return fired, nil
}

func (c *CronCondition) Save() (json.RawMessage, error) { return json.Marshal(c) }

func (c *CronCondition) Load(data json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schedule = nil
	return json.Unmarshal(data, c)
}

func (c *CronCondition) ShortDesc() string { return c.Expression }
