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
	"os"
	"reflect"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// LoadConfig reads a yaml, json or toml file (chosen by extension) and then
// applies environment variables named PREFIX_SECTION_KEY, for example
// TABLELAB_CONNECTION_HOST. An empty path loads defaults and environment only.
func LoadConfig(path, envPrefix string) (*Config, error) {
	v := viper.New()

	// 1. Defaults, so every key is known to the env binding below
	def := Config{ConnectionConfig: *DefaultConnectionConfig()}
	for key, value := range flattenDefaults("", reflect.ValueOf(def)) {
		v.SetDefault(key, value)
	}

	// 2. Config file
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: failed to read config %s: %v", ErrConfiguration, path, err)
		}
	}

	// 3. Environment variables
	if envPrefix != "" {
		v.SetEnvPrefix(strings.TrimSuffix(envPrefix, "_"))
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Unmarshal into struct
	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal config: %v", ErrConfiguration, err)
	}
	return cfg, nil
}

// flattenDefaults walks mapstructure tags into dotted viper keys.
func flattenDefaults(prefix string, rv reflect.Value) map[string]interface{} {
	out := make(map[string]interface{})
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		tag := rt.Field(i).Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		fv := rv.Field(i)
		if fv.Kind() == reflect.Struct {
			for k, val := range flattenDefaults(key, fv) {
				out[k] = val
			}
			continue
		}
		out[key] = fv.Interface()
	}
	return out
}

// LoadSchemaFile parses table declarations from a YAML file.
func LoadSchemaFile(path string) ([]TableDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}

	var file SchemaFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: failed to parse schema file %s: %v", ErrConfiguration, path, err)
	}
	for _, def := range file.Tables {
		if err := def.validate(); err != nil {
			return nil, err
		}
	}
	return file.Tables, nil
}

// RegisterSchemaFile loads path and adds every table it declares to registry.
func RegisterSchemaFile(registry TableRegistry, path string) error {
	defs, err := LoadSchemaFile(path)
	if err != nil {
		return err
	}
	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}
