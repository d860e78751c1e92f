package config

import (
	"os"

	"gopkg.in/yaml.v3"

	pkgerr "github.com/sparkbox/go-kiosk/pkg/errors"
)

// LoadFile 先从环境变量加载, 再用 YAML 文件覆盖出现的键。
//
// 文件内容在解析前做 ${VAR} 展开。path 为空时等同 Load()。
func LoadFile(path string) (*Config, error) {
	cfg := Load()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pkgerr.WithCode(pkgerr.ErrNotFound, "Config.LoadFile", pkgerr.CodeConfig, "config file not found: "+path)
		}
		return nil, pkgerr.Wrapf(err, "Config.LoadFile", "read %s", path)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, pkgerr.WithCode(err, "Config.LoadFile", pkgerr.CodeConfig, "invalid YAML in "+path)
	}
	return cfg, nil
}
