package coaputil

import (
	"flag"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LoadConfig 读取YAML配置文件并设置fs中对应的flag, 命令行中已设置的flag不被覆盖.
//
// 文件的键为flag名, 列表值对每个元素调用一次Set.
func LoadConfig(fs *flag.FlagSet, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read config")
	}
	return ApplyConfig(fs, data)
}

// ApplyConfig 同LoadConfig, data为YAML内容.
func ApplyConfig(fs *flag.FlagSet, data []byte) error {
	var values map[string]interface{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return errors.Wrap(err, "parse config")
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	for name, v := range values {
		if fs.Lookup(name) == nil {
			return errors.Errorf("config: unknown flag %q", name)
		}
		if set[name] {
			continue
		}
		if err := setFlag(fs, name, v); err != nil {
			return err
		}
	}
	return nil
}

func setFlag(fs *flag.FlagSet, name string, v interface{}) error {
	switch vv := v.(type) {
	case nil:
		return nil
	case []interface{}:
		for _, e := range vv {
			if err := setFlag(fs, name, e); err != nil {
				return err
			}
		}
		return nil
	case map[string]interface{}:
		return errors.Errorf("config: flag %q: unsupported map value", name)
	}
	if err := fs.Set(name, fmt.Sprint(v)); err != nil {
		return errors.Wrapf(err, "config: flag %q", name)
	}
	return nil
}
