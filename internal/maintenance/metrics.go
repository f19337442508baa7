package maintenance

import "github.com/prometheus/client_golang/prometheus"

var (
	pruneRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statline_history_prune_runs_total",
			Help: "Total number of history prune runs by status.",
		},
		[]string{"status"},
	)
	pruneRowsDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "statline_history_rows_pruned_total",
			Help: "Total number of history rows deleted by retention.",
		},
	)
	integrityRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statline_dataset_integrity_runs_total",
			Help: "Total number of dataset integrity check runs by status.",
		},
		[]string{"status"},
	)
	integrityFilesCheckedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "statline_dataset_integrity_files_checked_total",
			Help: "Total number of dataset files compared with the object store.",
		},
	)
	integrityMismatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statline_dataset_integrity_mismatches_total",
			Help: "Total number of dataset files missing or differing from the object store.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		pruneRunsTotal,
		pruneRowsDeletedTotal,
		integrityRunsTotal,
		integrityFilesCheckedTotal,
		integrityMismatchesTotal,
	)
}
