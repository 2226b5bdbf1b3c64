package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Jobs      JobsConfig
	Scheduler SchedulerConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type JobsConfig struct {
	MaxAttempts      int
	BackoffBase      time.Duration
	Timeout          time.Duration
	Retention        time.Duration
	BlueprintStepGap time.Duration
}

type SchedulerConfig struct {
	RetryDelay      time.Duration
	TaskTimeout     time.Duration
	CacheCleanup    time.Duration
	Analytics       time.Duration
	StaleJobCleanup time.Duration
	CacheWarming    time.Duration
}

type RateLimitConfig struct {
	JobsPerHour int
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	viper.SetDefault("server.port", "3000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jobs.max_attempts", 3)
	viper.SetDefault("jobs.backoff_base_ms", 2000)
	viper.SetDefault("jobs.timeout_ms", 300000)
	viper.SetDefault("jobs.retention_hours", 24)
	viper.SetDefault("jobs.blueprint_step_gap_ms", 2000)
	viper.SetDefault("scheduler.retry_delay_min", 5)
	viper.SetDefault("scheduler.task_timeout_min", 5)
	viper.SetDefault("scheduler.cache_cleanup_min", 60)
	viper.SetDefault("scheduler.analytics_min", 30)
	viper.SetDefault("scheduler.stale_job_cleanup_min", 1440)
	viper.SetDefault("scheduler.cache_warming_min", 15)
	viper.SetDefault("ratelimit.jobs_per_hour", 100)

	// Config file is optional; env and defaults cover everything.
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetString("server.port"),
			Env:  viper.GetString("server.env"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
		},
		Jobs: JobsConfig{
			MaxAttempts:      viper.GetInt("jobs.max_attempts"),
			BackoffBase:      time.Duration(viper.GetInt("jobs.backoff_base_ms")) * time.Millisecond,
			Timeout:          time.Duration(viper.GetInt("jobs.timeout_ms")) * time.Millisecond,
			Retention:        time.Duration(viper.GetInt("jobs.retention_hours")) * time.Hour,
			BlueprintStepGap: time.Duration(viper.GetInt("jobs.blueprint_step_gap_ms")) * time.Millisecond,
		},
		Scheduler: SchedulerConfig{
			RetryDelay:      time.Duration(viper.GetInt("scheduler.retry_delay_min")) * time.Minute,
			TaskTimeout:     time.Duration(viper.GetInt("scheduler.task_timeout_min")) * time.Minute,
			CacheCleanup:    time.Duration(viper.GetInt("scheduler.cache_cleanup_min")) * time.Minute,
			Analytics:       time.Duration(viper.GetInt("scheduler.analytics_min")) * time.Minute,
			StaleJobCleanup: time.Duration(viper.GetInt("scheduler.stale_job_cleanup_min")) * time.Minute,
			CacheWarming:    time.Duration(viper.GetInt("scheduler.cache_warming_min")) * time.Minute,
		},
		RateLimit: RateLimitConfig{
			JobsPerHour: viper.GetInt("ratelimit.jobs_per_hour"),
		},
	}

	return cfg, nil
}
