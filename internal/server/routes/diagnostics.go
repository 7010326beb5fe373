package routes

import (
	"net/http"
	"sort"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/scrapn/scrapn/internal/egress"
	"github.com/scrapn/scrapn/internal/version"
)

// CacheStat 是 /-/status 中展示的缓存视图，cache.ResultCache 满足该接口。
type CacheStat interface {
	Name() string
	Len() int
	TTL() time.Duration
}

// MediaStat 是媒体缓存视图，cache.BlobCache 满足该接口。
type MediaStat interface {
	Len() int
	Persistent() bool
}

// Diagnostics 暴露 /-/status 与 /-/metrics 诊断接口，供 SRE 查询缓存与出口状态。
type Diagnostics struct {
	Caches         []CacheStat
	Media          MediaStat
	Variants       MediaStat
	Pool           *egress.Pool
	EgressMode     string
	WhitelistCount int
	Metrics        http.Handler
	Started        time.Time
}

// Register 挂载诊断路由，Metrics 为空时不暴露 /-/metrics。
func (d *Diagnostics) Register(router fiber.Router) {
	router.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(d.status(time.Now()))
	})
	if d.Metrics != nil {
		router.Get("/-/metrics", adaptor.HTTPHandler(d.Metrics))
	}
}

type statusPayload struct {
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Caches        []cachePayload  `json:"caches"`
	Media         *mediaPayload   `json:"media,omitempty"`
	Variants      *mediaPayload   `json:"variants,omitempty"`
	Egress        egressPayload   `json:"egress"`
	Whitelist     whitelistStatus `json:"whitelist"`
}

type cachePayload struct {
	Name       string `json:"name"`
	Entries    int    `json:"entries"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

type mediaPayload struct {
	Entries    int  `json:"entries"`
	Persistent bool `json:"persistent"`
}

type egressPayload struct {
	Mode            string          `json:"mode"`
	Total           int             `json:"total"`
	Available       int             `json:"available"`
	CooldownSeconds int64           `json:"cooldown_seconds"`
	Proxies         []egress.Status `json:"proxies"`
}

type whitelistStatus struct {
	Enabled bool `json:"enabled"`
	Count   int  `json:"count"`
}

func (d *Diagnostics) status(now time.Time) statusPayload {
	payload := statusPayload{
		Version: version.Full(),
		Caches:  encodeCaches(d.Caches),
		Egress:  encodeEgress(d.Pool, d.EgressMode),
		Whitelist: whitelistStatus{
			Enabled: d.WhitelistCount > 0,
			Count:   d.WhitelistCount,
		},
	}
	if !d.Started.IsZero() {
		payload.UptimeSeconds = int64(now.Sub(d.Started) / time.Second)
	}
	payload.Media = encodeMedia(d.Media)
	payload.Variants = encodeMedia(d.Variants)
	return payload
}

func encodeMedia(m MediaStat) *mediaPayload {
	if m == nil {
		return nil
	}
	return &mediaPayload{Entries: m.Len(), Persistent: m.Persistent()}
}

func encodeCaches(caches []CacheStat) []cachePayload {
	result := make([]cachePayload, 0, len(caches))
	for _, c := range caches {
		if c == nil {
			continue
		}
		result = append(result, cachePayload{
			Name:       c.Name(),
			Entries:    c.Len(),
			TTLSeconds: int64(c.TTL() / time.Second),
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}

func encodeEgress(pool *egress.Pool, mode string) egressPayload {
	available, total := pool.Counts()
	proxies := pool.Snapshot()
	if proxies == nil {
		proxies = []egress.Status{}
	}
	return egressPayload{
		Mode:            mode,
		Total:           total,
		Available:       available,
		CooldownSeconds: int64(pool.Cooldown() / time.Second),
		Proxies:         proxies,
	}
}
