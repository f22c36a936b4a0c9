/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package store inspects the CityFlow metrics store for resulting documents.
// store 包检查 CityFlow 指标存储中的结果文档。
//
// The processors write metric documents keyed by {date, metric_name} into
// per-family collections; the controller only counts them, it never writes.
// 处理器将以 {date, metric_name} 为键的指标文档写入按族划分的集合；
// 控制器只统计它们，从不写入。
package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/cityflow/cityflowctl/internal/config"
)

// Metric family routing, mirroring the processors' own table
// 指标族路由，与处理器自身的路由表一致
var metricFamilies = map[string][]string{
	"flux": {
		"debit_horaire",
		"debit_journalier",
		"dmja",
		"evolution_hebdomadaire",
		"ratio_weekend_semaine",
	},
	"performance": {
		"taux_disponibilite",
		"top_compteurs",
		"compteurs_faible_activite",
		"compteurs_defaillants",
		"heures_pointe",
		"profil_jour_type",
	},
	"analyse": {
		"anomalies",
		"congestion_cyclable",
		"corridors_cyclables",
		"densite_par_zone",
	},
	"infrastructure": {
		"chantiers_actifs",
		"score_criticite_chantiers",
		"qualite_service",
	},
}

// CollectionForMetric returns the collection holding a metric, or "" when
// the metric name is not part of the routing table.
// CollectionForMetric 返回保存某指标的集合；指标名不在路由表中时返回 ""。
func CollectionForMetric(cfg *config.StoreConfig, metric string) string {
	families := map[string]string{
		"flux":           cfg.FluxCollection,
		"performance":    cfg.PerformanceCollection,
		"analyse":        cfg.AnalyseCollection,
		"infrastructure": cfg.InfrastructureCollection,
	}

	for family, metrics := range metricFamilies {
		for _, name := range metrics {
			if name == metric {
				return families[family]
			}
		}
	}
	return ""
}

// CollectionCount is the document count for one collection and date
// CollectionCount 是一个集合在某日期的文档数量
type CollectionCount struct {
	Collection string `json:"collection"`
	Count      int64  `json:"count"`
}

// VerificationReport summarizes the documents found for a processing date
// VerificationReport 汇总某处理日期找到的文档
type VerificationReport struct {
	Date   string            `json:"date"`
	Counts []CollectionCount `json:"counts"`
	Total  int64             `json:"total"`
}

// Passed reports whether the processing run left any documents at all
// Passed 报告处理运行是否留下了任何文档
func (r *VerificationReport) Passed() bool {
	return r.Total > 0
}

// Store is a read-only handle on the metrics database
// Store 是指标数据库的只读句柄
type Store struct {
	cfg    *config.StoreConfig
	client *mongo.Client
	logger *zap.Logger
}

// Connect opens a client for the configured store
// Connect 为配置的存储打开一个客户端
func Connect(ctx context.Context, cfg *config.StoreConfig, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetServerSelectionTimeout(cfg.ConnectTimeout).
		SetConnectTimeout(cfg.ConnectTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to store: %w / 连接存储失败：%w", err, err)
	}

	return &Store{cfg: cfg, client: client, logger: logger}, nil
}

// Ping verifies the store is reachable; used as the pipeline prerequisite gate
// Ping 验证存储可达；用作流水线前置条件门槛
func (s *Store) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	if err := s.client.Ping(pingCtx, readpref.Primary()); err != nil {
		return fmt.Errorf("store unreachable at %s: %w / 存储 %s 不可达：%w", s.cfg.URI, err, s.cfg.URI, err)
	}
	return nil
}

// CountForDate counts the documents each routed collection holds for date
// CountForDate 统计每个路由集合在 date 的文档数量
func (s *Store) CountForDate(ctx context.Context, date string) (*VerificationReport, error) {
	report := &VerificationReport{Date: date}
	db := s.client.Database(s.cfg.Database)

	for _, collection := range s.cfg.Collections() {
		count, err := db.Collection(collection).CountDocuments(ctx, bson.M{"date": date})
		if err != nil {
			return nil, fmt.Errorf("failed to count %s: %w / 统计 %s 失败：%w", collection, err, collection, err)
		}

		report.Counts = append(report.Counts, CollectionCount{Collection: collection, Count: count})
		report.Total += count
	}

	s.logger.Info("store verification",
		zap.String("date", date), zap.Int64("documents", report.Total))

	return report, nil
}

// CountMetricForDate counts the documents for one named metric and date
// CountMetricForDate 统计某个命名指标在 date 的文档数量
func (s *Store) CountMetricForDate(ctx context.Context, date, metric string) (int64, error) {
	collection := CollectionForMetric(s.cfg, metric)
	if collection == "" {
		return 0, fmt.Errorf("unknown metric: %s / 未知指标：%s", metric, metric)
	}

	count, err := s.client.Database(s.cfg.Database).
		Collection(collection).
		CountDocuments(ctx, bson.M{"date": date, "metric_name": metric})
	if err != nil {
		return 0, fmt.Errorf("failed to count metric %s: %w / 统计指标 %s 失败：%w", metric, err, metric, err)
	}

	return count, nil
}

// Close releases the underlying client
// Close 释放底层客户端
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
