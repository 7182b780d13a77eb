package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	runStatusCompleted = "completed"
	runStatusFailed    = "failed"
	runStatusDiscarded = "discarded"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_runs_total",
			Help: "Total number of finished generation runs by outcome.",
		},
		[]string{"status"},
	)
	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "storybook_run_duration_seconds",
			Help:    "Histogram of end-to-end generation run durations.",
			Buckets: []float64{10, 30, 60, 120, 180, 300, 450, 600, 900},
		},
	)
	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storybook_stage_duration_seconds",
			Help:    "Histogram of generation stage durations.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s .. 512s
		},
		[]string{"stage"},
	)
	pagesGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storybook_pages_generated_total",
			Help: "Total number of pages written and illustrated.",
		},
	)
	booksSaved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_books_saved_total",
			Help: "Total number of save attempts by outcome.",
		},
		[]string{"status"},
	)
)
