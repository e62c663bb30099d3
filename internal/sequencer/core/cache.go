// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"seqgen"
	"seqgen/internal/sequencer/telemetry"
)

// DefaultTemplateCacheSize bounds the number of rendered template sets kept
// per strategy.
const DefaultTemplateCacheSize = 256

// TemplateCache keeps rendered statement templates for hot counters.
//
// Entries are keyed by "grouping:initialValue:increment" and evicted with a
// 2Q policy, which tracks both recency and frequency so a burst of one-off
// keys does not flush the hot ones. Lookups are safe for concurrent use.
//
// Each entry remembers the column layout it was rendered for. A lookup with a
// different layout is a miss, so a key never gets another layout's columns.
//
// GetOrRender does not hold a lock while rendering: two goroutines missing
// on the same key both render and the last Add wins. Both results are
// equivalent, so which one survives does not matter.
type TemplateCache struct {
	entries *lru.TwoQueueCache
	metrics *telemetry.Metrics
}

// NewTemplateCache creates a cache holding at most size entries. A size <= 0
// selects DefaultTemplateCacheSize.
func NewTemplateCache(size int, metrics *telemetry.Metrics) (*TemplateCache, error) {
	if size <= 0 {
		size = DefaultTemplateCacheSize
	}
	c, err := lru.New2Q(size)
	if err != nil {
		return nil, fmt.Errorf("template cache: %w", err)
	}
	return &TemplateCache{entries: c, metrics: metrics}, nil
}

// CacheKey is the composite key used for template lookups.
func CacheKey(grouping string, initialValue, increment int64) string {
	return fmt.Sprintf("%s:%d:%d", grouping, initialValue, increment)
}

type cachedTemplates struct {
	layout string
	tpls   []Template
}

// Layout identifies the column pair a key's templates are rendered with.
func Layout(key seqgen.Key) string { return key.KeyColumn + "," + key.ValueColumn }

// GetOrRender returns the cached templates for key rendered with layout,
// calling render on a miss.
func (c *TemplateCache) GetOrRender(key, layout string, render func() []Template) []Template {
	if v, ok := c.entries.Get(key); ok {
		if e := v.(cachedTemplates); e.layout == layout {
			c.metrics.ObserveTemplateLookup(true)
			return e.tpls
		}
	}
	c.metrics.ObserveTemplateLookup(false)
	tpls := render()
	c.entries.Add(key, cachedTemplates{layout: layout, tpls: tpls})
	return tpls
}

// Len reports the number of cached entries.
func (c *TemplateCache) Len() int { return c.entries.Len() }

// Purge drops every cached entry.
func (c *TemplateCache) Purge() { c.entries.Purge() }
