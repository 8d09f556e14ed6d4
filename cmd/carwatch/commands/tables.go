package commands

import (
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/carwatch/internal/model"
	"github.com/jmylchreest/carwatch/internal/output"
)

// The slice types below render as tables and encode as plain lists in
// the structured formats.

type sessionList []model.Session

func (l sessionList) Header() []string {
	return []string{"id", "started", "status", "total", "new", "updated", "price changes", "failed"}
}

func (l sessionList) Rows() [][]string {
	now := time.Now()
	rows := make([][]string, 0, len(l))
	for _, s := range l {
		rows = append(rows, []string{
			strconv.FormatInt(s.ID, 10),
			output.When(&s.StartedAt, now),
			string(s.Status),
			strconv.Itoa(s.Total),
			strconv.Itoa(s.New),
			strconv.Itoa(s.Updated),
			strconv.Itoa(s.PriceChanges),
			strconv.Itoa(s.Failed),
		})
	}
	return rows
}

type recordList []model.SessionListing

func (l recordList) Header() []string {
	return []string{"id", "name", "price", "year", "city", "views", "new", "price changed"}
}

func (l recordList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, r := range l {
		rows = append(rows, append(listingCells(r.Listing)[:6], yesNo(r.WasNew), yesNo(r.PriceChanged)))
	}
	return rows
}

type listingList []model.Listing

func (l listingList) Header() []string {
	return []string{"id", "name", "price", "year", "city", "views", "mileage"}
}

func (l listingList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, item := range l {
		rows = append(rows, listingCells(item))
	}
	return rows
}

func listingCells(l model.Listing) []string {
	year := "-"
	if l.Year != nil {
		year = strconv.Itoa(*l.Year)
	}
	return []string{
		l.ID,
		l.Name,
		output.Price(l.Price, l.Currency),
		year,
		orDash(l.City),
		output.Count(l.Views),
		output.Count(l.Mileage),
	}
}

type historyList []model.PriceChange

func (l historyList) Header() []string {
	return []string{"recorded", "old price", "new price", "session"}
}

func (l historyList) Rows() [][]string {
	now := time.Now()
	rows := make([][]string, 0, len(l))
	for _, h := range l {
		newPrice := h.NewPrice
		rows = append(rows, []string{
			output.When(&h.RecordedAt, now),
			output.Price(h.OldPrice, h.Currency),
			output.Price(&newPrice, h.Currency),
			strconv.FormatInt(h.SessionID, 10),
		})
	}
	return rows
}

type jobList []model.Job

func (l jobList) Header() []string {
	return []string{"id", "name", "schedule", "active", "last run", "next run"}
}

func (l jobList) Rows() [][]string {
	now := time.Now()
	rows := make([][]string, 0, len(l))
	for _, j := range l {
		next := j.NextRun
		rows = append(rows, []string{
			j.ID,
			j.Name,
			describeSchedule(j),
			yesNo(j.Active),
			output.When(j.LastRun, now),
			output.When(&next, now),
		})
	}
	return rows
}

var weekdayNames = [...]string{1: "Mon", 2: "Tue", 3: "Wed", 4: "Thu", 5: "Fri", 6: "Sat", 7: "Sun"}

func describeSchedule(j model.Job) string {
	switch j.Kind {
	case model.KindHourly:
		return "hourly"
	case model.KindWeekly:
		days := make([]string, 0, len(j.Days))
		for _, d := range j.Days {
			if d >= 1 && d <= 7 {
				days = append(days, weekdayNames[d])
			}
		}
		if len(days) == 0 {
			days = append(days, weekdayNames[1])
		}
		return "weekly " + strings.Join(days, ",") + " " + j.TimeOfDay
	default:
		return string(j.Kind) + " " + j.TimeOfDay
	}
}

type runList []model.JobRun

func (l runList) Header() []string {
	return []string{"id", "started", "status", "session", "total", "new", "price changes", "error"}
}

func (l runList) Rows() [][]string {
	now := time.Now()
	rows := make([][]string, 0, len(l))
	for _, r := range l {
		session := "-"
		if r.SessionID != nil {
			session = strconv.FormatInt(*r.SessionID, 10)
		}
		rows = append(rows, []string{
			strconv.FormatInt(r.ID, 10),
			output.When(&r.StartedAt, now),
			string(r.Status),
			session,
			strconv.Itoa(r.Total),
			strconv.Itoa(r.New),
			strconv.Itoa(r.PriceChanges),
			orDash(r.Error),
		})
	}
	return rows
}

type statsView model.SessionStats

func (s statsView) Header() []string {
	return []string{"session", "status", "total", "new", "updated", "price changes", "failed"}
}

func (s statsView) Rows() [][]string {
	return [][]string{{
		strconv.FormatInt(s.SessionID, 10),
		string(s.Status),
		strconv.Itoa(s.Total),
		strconv.Itoa(s.New),
		strconv.Itoa(s.Updated),
		strconv.Itoa(s.PriceChanges),
		strconv.Itoa(len(s.Failed)),
	}}
}

type makeList []model.Make

func (l makeList) Header() []string { return []string{"id", "name"} }

func (l makeList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, m := range l {
		rows = append(rows, []string{m.ID, m.Name})
	}
	return rows
}

type modelList []model.ModelOption

func (l modelList) Header() []string { return []string{"id", "make", "name"} }

func (l modelList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, m := range l {
		rows = append(rows, []string{m.ID, m.MakeID, m.Name})
	}
	return rows
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
