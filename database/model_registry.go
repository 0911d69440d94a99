/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

var defaultRegistry = newTableRegistry()

// TableDefinition declares one table: the statement creating its current
// layout, and the statements moving an older layout to each later version.
// Tables are created in ascending Priority.
type TableDefinition struct {
	Name     string           `yaml:"name"`
	Priority int              `yaml:"priority"`
	Version  int              `yaml:"version"`
	Create   string           `yaml:"create"`
	Upgrades map[int][]string `yaml:"upgrades"`
}

// CurrentVersion is Version, or 1 when unset.
func (d TableDefinition) CurrentVersion() int {
	if d.Version < 1 {
		return 1
	}
	return d.Version
}

func (d TableDefinition) validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: table definition without name", ErrConfiguration)
	}
	if strings.TrimSpace(d.Create) == "" {
		return fmt.Errorf("%w: table %q has no create statement", ErrConfiguration, d.Name)
	}
	for v := range d.Upgrades {
		if v < 2 || v > d.CurrentVersion() {
			return fmt.Errorf("%w: table %q upgrade %d outside 2..%d", ErrConfiguration, d.Name, v, d.CurrentVersion())
		}
	}
	return nil
}

// TableRegistry stores table definitions and exposes them in a deterministic order.
type TableRegistry interface {
	Register(def TableDefinition) error
	Tables() []TableDefinition
}

type tableRegistry struct {
	tables map[string]TableDefinition
	mutex  sync.RWMutex
}

func newTableRegistry() TableRegistry {
	return &tableRegistry{tables: make(map[string]TableDefinition)}
}

// NewTableRegistry returns an empty registry, independent of the process-wide one.
func NewTableRegistry() TableRegistry {
	return newTableRegistry()
}

// Register adds or replaces the definition with the same name.
func (r *tableRegistry) Register(def TableDefinition) error {
	if err := def.validate(); err != nil {
		return err
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.tables[def.Name] = def
	return nil
}

func (r *tableRegistry) Tables() []TableDefinition {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	result := make([]TableDefinition, 0, len(r.tables))
	for _, def := range r.tables {
		result = append(result, def)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Priority != result[j].Priority {
			return result[i].Priority < result[j].Priority
		}
		return result[i].Name < result[j].Name
	})
	return result
}

// RegisterTable adds a definition to the process-wide registry.
func RegisterTable(def TableDefinition) error {
	return defaultRegistry.Register(def)
}

// RegisteredTables returns the process-wide definitions by ascending priority.
func RegisteredTables() []TableDefinition {
	return defaultRegistry.Tables()
}
