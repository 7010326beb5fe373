// Package domain 定义抓取结果的结构化模型，JSON 字段采用 camelCase。
package domain

import (
	"net/url"
	"strings"
	"time"
)

// Stats 为账号的计数信息，上游缺失时为 null。
type Stats struct {
	PostsCount     *int64 `json:"postsCount"`
	FollowersCount *int64 `json:"followersCount"`
	FollowingCount *int64 `json:"followingCount"`
}

// Post 是时间线上的一条内容。
type Post struct {
	ID             string     `json:"id"`
	Shortcode      string     `json:"shortcode"`
	DisplayURL     string     `json:"displayUrl"`
	ThumbnailURL   string     `json:"thumbnailUrl,omitempty"`
	Caption        string     `json:"caption,omitempty"`
	LikesCount     *int64     `json:"likesCount"`
	CommentsCount  *int64     `json:"commentsCount"`
	Timestamp      *time.Time `json:"timestamp"`
	IsVideo        bool       `json:"isVideo"`
	VideoURL       string     `json:"videoUrl,omitempty"`
	VideoViewCount *int64     `json:"videoViewCount,omitempty"`
}

// Reel 是视频内容的视图，由视频类 Post 派生。
type Reel struct {
	ID            string     `json:"id"`
	Shortcode     string     `json:"shortcode"`
	DisplayURL    string     `json:"displayUrl"`
	VideoURL      string     `json:"videoUrl,omitempty"`
	Caption       string     `json:"caption,omitempty"`
	ViewsCount    *int64     `json:"viewsCount"`
	LikesCount    *int64     `json:"likesCount"`
	CommentsCount *int64     `json:"commentsCount"`
	Timestamp     *time.Time `json:"timestamp"`
}

// Profile 是一次抓取得到的完整账号数据。
type Profile struct {
	Username      string    `json:"username"`
	FullName      string    `json:"fullName,omitempty"`
	Biography     string    `json:"biography,omitempty"`
	ProfilePicURL string    `json:"profilePicUrl,omitempty"`
	IsPrivate     bool      `json:"isPrivate"`
	IsVerified    bool      `json:"isVerified"`
	ExternalURL   string    `json:"externalUrl,omitempty"`
	Stats         Stats     `json:"stats"`
	Posts         []Post    `json:"posts"`
	Reels         []Reel    `json:"reels"`
	// PostsLimited 表示上游帖子总数多于本次返回的首页。
	PostsLimited  bool      `json:"postsLimited"`
	ScrapedAt     time.Time `json:"scrapedAt"`
}

// ReelsFromPosts 从帖子中筛出视频并转换为 Reel，结果永不为 nil。
func ReelsFromPosts(posts []Post) []Reel {
	reels := make([]Reel, 0)
	for _, p := range posts {
		if !p.IsVideo {
			continue
		}
		reels = append(reels, Reel{
			ID:            p.ID,
			Shortcode:     p.Shortcode,
			DisplayURL:    p.DisplayURL,
			VideoURL:      p.VideoURL,
			Caption:       p.Caption,
			ViewsCount:    p.VideoViewCount,
			LikesCount:    p.LikesCount,
			CommentsCount: p.CommentsCount,
			Timestamp:     p.Timestamp,
		})
	}
	return reels
}

// MediaURLs 返回账号下所有可被代理的媒体地址。
func (p Profile) MediaURLs() []string {
	urls := make([]string, 0, 1+len(p.Posts)*3+len(p.Reels)*2)
	add := func(u string) {
		if u != "" {
			urls = append(urls, u)
		}
	}
	add(p.ProfilePicURL)
	for _, post := range p.Posts {
		add(post.DisplayURL)
		add(post.ThumbnailURL)
		add(post.VideoURL)
	}
	for _, reel := range p.Reels {
		add(reel.DisplayURL)
		add(reel.VideoURL)
	}
	return urls
}

// OwnsURL 判断 raw 是否属于该账号的媒体。CDN 地址的签名参数会变化，因此只比较 host 与 path。
func (p Profile) OwnsURL(raw string) bool {
	target, ok := mediaIdentity(raw)
	if !ok {
		return false
	}
	for _, candidate := range p.MediaURLs() {
		if id, ok := mediaIdentity(candidate); ok && id == target {
			return true
		}
	}
	return false
}

func mediaIdentity(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Hostname()) + u.Path, true
}
