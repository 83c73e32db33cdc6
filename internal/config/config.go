// Package config loads and validates the controller configuration from
// config file, environment, and command line flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type Config struct {
	TargetRoutingService string        `mapstructure:"target_routing_service"`
	DomainRoute          string        `mapstructure:"domain_route"`
	GroupName            string        `mapstructure:"group_name"`
	RetryDelay           time.Duration `mapstructure:"retry_delay"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout"`

	Admin         AdminConfig         `mapstructure:"admin"`
	Discovery     DiscoveryConfig     `mapstructure:"discovery"`
	Filters       FiltersConfig       `mapstructure:"filters"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type AdminConfig struct {
	Addr string `mapstructure:"addr"`
}

type DiscoveryConfig struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	Channel       string `mapstructure:"channel"`
}

type FiltersConfig struct {
	RtiTopics           bool   `mapstructure:"rti_topics"`
	RoutingServices     bool   `mapstructure:"routing_services"`
	WildcardPartitions  bool   `mapstructure:"wildcard_partitions"`
	EndpointExpression  string `mapstructure:"endpoint_expression"`
	PartitionExpression string `mapstructure:"partition_expression"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
	MetricsAddr    string `mapstructure:"metrics_addr"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	OTLPProtocol   string `mapstructure:"otlp_protocol"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
}

func setDefaults(v *viper.Viper) {
	// Empty defaults register the keys so environment-only values
	// survive Unmarshal.
	v.SetDefault("target_routing_service", "")
	v.SetDefault("group_name", "")
	v.SetDefault("domain_route", "Default")
	v.SetDefault("retry_delay", 10*time.Second)
	v.SetDefault("request_timeout", 10*time.Second)

	v.SetDefault("admin.addr", "localhost:7400")

	v.SetDefault("discovery.redis_addr", "localhost:6379")
	v.SetDefault("discovery.redis_password", "")
	v.SetDefault("discovery.redis_db", 0)
	v.SetDefault("discovery.channel", "routectl:discovery")

	v.SetDefault("filters.rti_topics", true)
	v.SetDefault("filters.routing_services", true)
	v.SetDefault("filters.wildcard_partitions", true)
	v.SetDefault("filters.endpoint_expression", "")
	v.SetDefault("filters.partition_expression", "")

	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.log_format", "text")
	v.SetDefault("observability.metrics_addr", ":9090")
	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.otlp_protocol", "http")
	v.SetDefault("observability.service_name", "routectl")
	v.SetDefault("observability.service_version", "dev")
}

// BindRunFlags binds cobra flags to viper for the run command.
func BindRunFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.Flags()
	f.String("config", "", "config file path")
	f.String("target", "", "target routing service name")
	f.String("domain-route", "", "domain route entities are created under")
	f.String("group", "", "routing service group name (enables the group filter)")
	f.String("admin-addr", "", "routing service administration endpoint")
	f.String("redis-addr", "", "redis address of the discovery channel")
	f.String("channel", "", "discovery announcement channel")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.String("log-format", "", "log format (json, text)")
	f.String("metrics-addr", "", "metrics HTTP listen address")

	_ = v.BindPFlag("target_routing_service", f.Lookup("target"))
	_ = v.BindPFlag("domain_route", f.Lookup("domain-route"))
	_ = v.BindPFlag("group_name", f.Lookup("group"))
	_ = v.BindPFlag("admin.addr", f.Lookup("admin-addr"))
	_ = v.BindPFlag("discovery.redis_addr", f.Lookup("redis-addr"))
	_ = v.BindPFlag("discovery.channel", f.Lookup("channel"))
	_ = v.BindPFlag("observability.log_level", f.Lookup("log-level"))
	_ = v.BindPFlag("observability.log_format", f.Lookup("log-format"))
	_ = v.BindPFlag("observability.metrics_addr", f.Lookup("metrics-addr"))
}

// Load reads config from flags, env, and file, returning the merged Config.
func Load(v *viper.Viper, configFile string) (Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("ROUTECTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("routectl")
		v.SetConfigType("hcl")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.routectl")
		v.AddConfigPath("/etc/routectl")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configFile != "" {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the construction-time constraints of the controller.
func (c Config) Validate() error {
	if c.TargetRoutingService == "" {
		return fmt.Errorf("config: target_routing_service must not be empty")
	}
	if c.DomainRoute == "" {
		return fmt.Errorf("config: domain_route must not be empty")
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("config: retry_delay must be >= 0")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("config: request_timeout must be > 0")
	}
	if c.Admin.Addr == "" {
		return fmt.Errorf("config: admin.addr must not be empty")
	}
	if c.Discovery.RedisAddr == "" {
		return fmt.Errorf("config: discovery.redis_addr must not be empty")
	}
	if c.Discovery.Channel == "" {
		return fmt.Errorf("config: discovery.channel must not be empty")
	}
	return nil
}
