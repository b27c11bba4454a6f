package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 入库指标
var (
	// IngestTotal 文档入库总数
	IngestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "litnav_ingest_total",
			Help: "文档入库总数",
		},
		[]string{"status"},
	)

	// IngestDuration 单文档入库耗时（秒）
	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "litnav_ingest_duration_seconds",
			Help:    "单文档入库耗时分布",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// IngestChunksDropped 向量化失败被丢弃的分块数
	IngestChunksDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "litnav_ingest_chunks_dropped_total",
			Help: "向量化失败被丢弃的分块数",
		},
	)
)

// 检索指标
var (
	// RetrievalsTotal 检索总数
	RetrievalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "litnav_retrievals_total",
			Help: "检索总数",
		},
		[]string{"intent", "status"},
	)

	// RetrievalDuration 检索耗时（秒）
	RetrievalDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "litnav_retrieval_duration_seconds",
			Help:    "检索耗时分布",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RetrievalResults 检索结果数量
	RetrievalResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "litnav_retrieval_results",
			Help:    "检索结果数量分布",
			Buckets: []float64{0, 1, 3, 5, 10, 20, 50},
		},
	)
)

// 答案生成指标
var (
	// AnswersTotal 答案生成总数
	AnswersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "litnav_answers_total",
			Help: "答案生成总数",
		},
		[]string{"status"}, // success, no_evidence, backend_error
	)

	// AnswerConfidence 答案置信度分布
	AnswerConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "litnav_answer_confidence",
			Help:    "答案置信度分布",
			Buckets: []float64{0, 0.2, 0.4, 0.6, 0.8, 0.9, 1},
		},
	)
)

// 去重检测指标
var (
	// DedupScanDuration 全量去重扫描耗时（秒）
	DedupScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "litnav_dedup_scan_duration_seconds",
			Help:    "全量去重扫描耗时分布",
			Buckets: []float64{0.1, 1, 5, 30, 60, 300, 600},
		},
	)

	// DedupClustersFound 最近一次扫描发现的重复簇数量
	DedupClustersFound = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "litnav_dedup_clusters_found",
			Help: "最近一次扫描发现的重复簇数量",
		},
	)
)
