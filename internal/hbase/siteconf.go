package hbase

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/indoos/hoya/internal/common"
)

// SiteFileName 客户端暂存到共享文件系统的 HBase 站点配置文件名
const SiteFileName = "hbase-site.xml"

// HBase 站点配置中 AM 关心的键
const (
	KeyRootDir  = "hbase.rootdir"
	KeyZKQuorum = "hbase.zookeeper.quorum"
	KeyZKPort   = "hbase.zookeeper.property.clientPort"
	KeyZKPath   = "zookeeper.znode.parent"
)

// SiteConfig 解析后的站点配置及 AM 派生字段
type SiteConfig struct {
	Properties []Property

	RootPath string
	ZKHosts  string
	ZKPort   int
	ZKPath   string
}

// Property 站点配置中的一个键值对，保持文件中的出现顺序
type Property struct {
	Name  string `xml:"name"`
	Value string `xml:"value"`
}

type siteDocument struct {
	XMLName    xml.Name   `xml:"configuration"`
	Properties []Property `xml:"property"`
}

// LoadSiteConfig 读取 <confDir>/hbase-site.xml 并校验派生字段。
// 目录或文件缺失、zk 端口为 0 都按配置错误处理。
func LoadSiteConfig(confDir string) (*SiteConfig, error) {
	info, err := os.Stat(confDir)
	if err != nil {
		return nil, common.BadConfigError("configuration directory %q is not accessible: %v", confDir, err)
	}
	if !info.IsDir() {
		return nil, common.BadConfigError("configuration path %q is not a directory", confDir)
	}

	path := filepath.Join(confDir, SiteFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, common.BadConfigError("required file %q is missing: %v", path, err)
	}

	var doc siteDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, common.BadConfigError("cannot parse %q: %v", path, err)
	}

	conf := &SiteConfig{Properties: doc.Properties}
	conf.RootPath = conf.Get(KeyRootDir)
	conf.ZKHosts = conf.Get(KeyZKQuorum)
	conf.ZKPath = conf.Get(KeyZKPath)
	if portStr := conf.Get(KeyZKPort); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, common.BadConfigError("invalid %s value %q", KeyZKPort, portStr)
		}
		conf.ZKPort = port
	}
	if conf.ZKPort == 0 {
		return nil, common.BadConfigError("%s is missing or zero in %s", KeyZKPort, path)
	}

	return conf, nil
}

// Get 按键查值，后出现的键覆盖先出现的
func (c *SiteConfig) Get(name string) string {
	value := ""
	for _, p := range c.Properties {
		if p.Name == name {
			value = p.Value
		}
	}
	return value
}

// ToMap 把全部属性复制为 map，用于填充集群描述的 clientProperties
func (c *SiteConfig) ToMap() map[string]string {
	out := make(map[string]string, len(c.Properties))
	for _, p := range c.Properties {
		out[p.Name] = p.Value
	}
	return out
}

// String 摘要形式，用于日志
func (c *SiteConfig) String() string {
	return fmt.Sprintf("SiteConfig{rootdir=%s, zk=%s:%d%s, properties=%d}",
		c.RootPath, c.ZKHosts, c.ZKPort, c.ZKPath, len(c.Properties))
}
