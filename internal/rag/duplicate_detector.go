package rag

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"litnav/internal/config"
	"litnav/internal/logger"
	"litnav/internal/metrics"
)

// DuplicateDetector 近重复分块检测器
// 全量扫描: 每个分块查询同章节近邻, 相似度达到阈值的分块对连边,
// 并查集合并连通分量, 成员数 ≥ 2 的分量即重复簇。
// 结果不持久化, 每次扫描基于存储当前状态重新计算。
type DuplicateDetector struct {
	store VectorStore
	cfg   config.DedupConfig
}

// NewDuplicateDetector 创建去重检测器
func NewDuplicateDetector(store VectorStore, cfg config.DedupConfig) *DuplicateDetector {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.92
	}
	if cfg.Neighbors <= 0 {
		cfg.Neighbors = 6
	}
	return &DuplicateDetector{store: store, cfg: cfg}
}

// dupEdge 一条达到阈值的相似对
type dupEdge struct {
	a, b       string
	similarity float64
}

// FindClusters 全量扫描并返回重复簇
// 簇按 成员数降序 → 平均相似度降序 → 代表分块ID升序 排序, 结果确定
func (d *DuplicateDetector) FindClusters(ctx context.Context) ([]*DuplicateCluster, error) {
	start := time.Now()

	records, err := d.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		metrics.DedupClustersFound.Set(0)
		return nil, nil
	}

	byID := make(map[string]*EmbeddingRecord, len(records))
	for _, rec := range records {
		byID[rec.ChunkID] = rec
	}

	edges, err := d.collectEdges(ctx, records, byID)
	if err != nil {
		return nil, err
	}

	clusters := d.buildClusters(edges, byID)

	metrics.DedupScanDuration.Observe(time.Since(start).Seconds())
	metrics.DedupClustersFound.Set(float64(len(clusters)))
	logger.WithContext(ctx).Info("去重扫描完成",
		zap.Int("chunks", len(records)),
		zap.Int("edges", len(edges)),
		zap.Int("clusters", len(clusters)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return clusters, nil
}

// collectEdges 对每个分块检索同章节近邻, 收集达到阈值的相似对
// 每条边按 (小ID, 大ID) 去重, 相似度取发现时的值
// 检索走存储当前状态, 可能命中 List 快照之后写入的记录; 扫描只统计快照内的分块
func (d *DuplicateDetector) collectEdges(ctx context.Context, records []*EmbeddingRecord, byID map[string]*EmbeddingRecord) ([]dupEdge, error) {
	seen := make(map[[2]string]bool)
	var edges []dupEdge

	for _, rec := range records {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		hits, err := d.store.Search(ctx, rec.Embedding, d.cfg.Neighbors, &SearchFilter{
			Section:        rec.Section,
			ExcludeChunkID: rec.ChunkID,
		})
		if err != nil {
			return nil, err
		}

		for _, hit := range hits {
			if hit.Similarity < d.cfg.Threshold {
				continue
			}
			if _, ok := byID[hit.Record.ChunkID]; !ok {
				continue
			}
			key := edgeKey(rec.ChunkID, hit.Record.ChunkID)
			if seen[key] {
				continue
			}
			seen[key] = true
			edges = append(edges, dupEdge{a: key[0], b: key[1], similarity: hit.Similarity})
		}
	}

	return edges, nil
}

// buildClusters 并查集合并相似对, 导出成员数 ≥ 2 的簇
func (d *DuplicateDetector) buildClusters(edges []dupEdge, byID map[string]*EmbeddingRecord) []*DuplicateCluster {
	if len(edges) == 0 {
		return nil
	}

	uf := newUnionFind()
	for _, e := range edges {
		uf.union(e.a, e.b)
	}

	// 根 → 成员列表
	members := make(map[string][]string)
	for id := range uf.parent {
		root := uf.find(id)
		members[root] = append(members[root], id)
	}

	// 根 → 簇内已发现边的相似度累计
	edgeSum := make(map[string]float64)
	edgeCount := make(map[string]int)
	for _, e := range edges {
		root := uf.find(e.a)
		edgeSum[root] += e.similarity
		edgeCount[root]++
	}

	clusters := make([]*DuplicateCluster, 0, len(members))
	for root, ids := range members {
		if len(ids) < 2 {
			continue
		}
		sort.Strings(ids)

		paperSet := make(map[string]bool)
		var paperIDs []string
		var rep *EmbeddingRecord
		for _, id := range ids {
			rec := byID[id]
			if !paperSet[rec.PaperID] {
				paperSet[rec.PaperID] = true
				paperIDs = append(paperIDs, rec.PaperID)
			}
			// 代表分块: (论文ID, 位置) 最小的成员
			if rep == nil || rec.PaperID < rep.PaperID ||
				(rec.PaperID == rep.PaperID && rec.Position < rep.Position) {
				rep = rec
			}
		}
		sort.Strings(paperIDs)

		clusters = append(clusters, &DuplicateCluster{
			ChunkIDs:       ids,
			PaperIDs:       paperIDs,
			AvgSimilarity:  edgeSum[root] / float64(edgeCount[root]),
			Representative: rep,
		})
	}

	sort.Slice(clusters, func(i, j int) bool {
		if clusters[i].Size() != clusters[j].Size() {
			return clusters[i].Size() > clusters[j].Size()
		}
		if clusters[i].AvgSimilarity != clusters[j].AvgSimilarity {
			return clusters[i].AvgSimilarity > clusters[j].AvgSimilarity
		}
		return clusters[i].Representative.ChunkID < clusters[j].Representative.ChunkID
	})

	return clusters
}

// Statistics 基于一次全量扫描计算去重统计
func (d *DuplicateDetector) Statistics(ctx context.Context) (*DuplicateStats, error) {
	clusters, err := d.FindClusters(ctx)
	if err != nil {
		return nil, err
	}

	storeStats, err := d.store.Stats(ctx)
	if err != nil {
		return nil, err
	}

	stats := &DuplicateStats{
		TotalClusters:    len(clusters),
		SectionBreakdown: make(map[SectionKind]int),
	}

	affected := make(map[string]bool)
	for _, cluster := range clusters {
		// 每簇保留一个"原件", 其余计为重复
		stats.TotalDuplicateChunks += cluster.Size() - 1
		stats.SectionBreakdown[cluster.Representative.Section]++
		for _, paperID := range cluster.PaperIDs {
			affected[paperID] = true
		}
	}
	stats.AffectedDocuments = len(affected)

	if storeStats.TotalChunks > 0 {
		stats.DuplicatePercentage = float64(stats.TotalDuplicateChunks) / float64(storeStats.TotalChunks) * 100
	}

	return stats, nil
}

// edgeKey 无序分块对的规范键
func edgeKey(a, b string) [2]string {
	if a < b {
		return [2]string{a, b}
	}
	return [2]string{b, a}
}

// unionFind 带路径压缩与按秩合并的并查集
type unionFind struct {
	parent map[string]string
	rank   map[string]int
}

func newUnionFind() *unionFind {
	return &unionFind{
		parent: make(map[string]string),
		rank:   make(map[string]int),
	}
}

// find 迭代式查找根并做路径压缩
func (u *unionFind) find(x string) string {
	if _, ok := u.parent[x]; !ok {
		u.parent[x] = x
	}

	root := x
	for u.parent[root] != root {
		root = u.parent[root]
	}
	for u.parent[x] != root {
		u.parent[x], x = root, u.parent[x]
	}
	return root
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.rank[ra] < u.rank[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	if u.rank[ra] == u.rank[rb] {
		u.rank[ra]++
	}
}
