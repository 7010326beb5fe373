package main

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/scrapn/scrapn/internal/access"
	"github.com/scrapn/scrapn/internal/api"
	"github.com/scrapn/scrapn/internal/cache"
	"github.com/scrapn/scrapn/internal/config"
	"github.com/scrapn/scrapn/internal/domain"
	"github.com/scrapn/scrapn/internal/egress"
	"github.com/scrapn/scrapn/internal/metrics"
	"github.com/scrapn/scrapn/internal/server"
	"github.com/scrapn/scrapn/internal/server/routes"
	"github.com/scrapn/scrapn/internal/upstream"
)

const (
	profileCacheName = "profiles"
	variantCacheName = "variants"
	backoffJitter    = 0.2
)

// service 持有进程内共享的组件实例。
type service struct {
	app      *fiber.App
	pool     *egress.Pool
	profiles *cache.ResultCache[domain.Profile]
	media    *cache.BlobCache
	variants *cache.BlobCache
	metrics  *metrics.Collector
}

// buildService 按配置组装代理池、缓存、抓取器与 HTTP 应用，不启动监听。
func buildService(cfg *config.Config, logger *logrus.Logger) (*service, error) {
	descriptors, err := cfg.Descriptors()
	if err != nil {
		return nil, err
	}
	pool := egress.NewPool(descriptors, cfg.Egress.Cooldown.DurationValue())

	collector := metrics.NewCollector()
	collector.WatchPool(pool)

	profiles := cache.NewResultCache[domain.Profile](
		profileCacheName,
		cfg.Global.CacheTTL.DurationValue(),
		cache.WithMetrics(collector),
	)
	collector.WatchCacheSize(profileCacheName, profiles.Len)

	blobOpts := []cache.BlobOption{
		cache.WithBlobMetrics(collector),
		cache.WithBlobLogger(logger),
	}
	if path := cfg.Global.BlobStoragePath; path != "" {
		store, err := cache.NewStore(path)
		if err != nil {
			return nil, fmt.Errorf("初始化图片缓存目录失败: %w", err)
		}
		blobOpts = append(blobOpts, cache.WithBlobStore(store))
	}
	media := cache.NewBlobCache(blobOpts...)
	collector.WatchCacheSize(media.Name(), media.Len)

	// 派生版本与原图共用磁盘目录，键带 "#参数" 后缀，不会与原图冲突。
	variants := cache.NewBlobCache(append(blobOpts, cache.WithBlobName(variantCacheName))...)
	collector.WatchCacheSize(variants.Name(), variants.Len)

	client := upstream.NewClient(upstream.ClientOptions{
		Pool:        pool,
		AllowDirect: cfg.Egress.AllowDirect,
		Timeout:     cfg.Global.UpstreamTimeout.DurationValue(),
		MaxRetries:  cfg.Global.MaxRetries,
		Backoff: upstream.Backoff{
			Initial: cfg.Global.InitialBackoff.DurationValue(),
			Max:     cfg.Global.MaxBackoff.DurationValue(),
			Jitter:  backoffJitter,
		},
		UserAgent: cfg.Global.UserAgent,
		Logger:    logger,
		Observer:  collector,
		Transport: server.NewUpstreamTransport(cfg),
	})
	scraper := upstream.NewScraper(client, upstream.ScraperOptions{
		Cookies:     cfg.Global.Cookies,
		MaxBlobSize: cfg.Global.MaxBlobSize,
		Logger:      logger,
	})

	whitelist, err := access.NewWhitelist(cfg.Global.UsernameWhitelist, cfg.Global.WhitelistFile)
	if err != nil {
		return nil, err
	}

	handler, err := api.NewHandler(api.Options{
		Profiles:    profiles,
		Media:       media,
		Variants:    variants,
		Fetcher:     scraper,
		Whitelist:   whitelist,
		Logger:      logger,
		ImageMaxAge: cfg.Global.ImageMaxAge.DurationValue(),
	})
	if err != nil {
		return nil, err
	}

	diagnostics := &routes.Diagnostics{
		Caches:         []routes.CacheStat{profiles},
		Media:          media,
		Variants:       variants,
		Pool:           pool,
		EgressMode:     cfg.Egress.EgressMode(),
		WhitelistCount: len(whitelist.Names()),
		Metrics:        collector.Handler(),
		Started:        time.Now(),
	}

	app, err := server.NewApp(server.AppOptions{
		Logger: logger,
		Routes: []server.RouteRegistrar{diagnostics, handler},
	})
	if err != nil {
		return nil, err
	}

	return &service{
		app:      app,
		pool:     pool,
		profiles: profiles,
		media:    media,
		variants: variants,
		metrics:  collector,
	}, nil
}
