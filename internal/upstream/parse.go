package upstream

import (
	"time"

	"github.com/scrapn/scrapn/internal/domain"
)

// 以下结构对应上游 graphql 风格的用户对象，web/mobile/HTML 三种来源共用。
type countEdge struct {
	Count *int64 `json:"count"`
}

type captionEdges struct {
	Edges []struct {
		Node struct {
			Text string `json:"text"`
		} `json:"node"`
	} `json:"edges"`
}

type mediaNode struct {
	ID               string       `json:"id"`
	Shortcode        string       `json:"shortcode"`
	DisplayURL       string       `json:"display_url"`
	ThumbnailSrc     string       `json:"thumbnail_src"`
	Caption          captionEdges `json:"edge_media_to_caption"`
	LikedBy          countEdge    `json:"edge_liked_by"`
	PreviewLike      countEdge    `json:"edge_media_preview_like"`
	Comments         countEdge    `json:"edge_media_to_comment"`
	TakenAtTimestamp *int64       `json:"taken_at_timestamp"`
	IsVideo          bool         `json:"is_video"`
	VideoURL         string       `json:"video_url"`
	VideoViewCount   *int64       `json:"video_view_count"`
}

type timeline struct {
	Count *int64 `json:"count"`
	Edges []struct {
		Node mediaNode `json:"node"`
	} `json:"edges"`
}

type userNode struct {
	ID              string    `json:"id"`
	Username        string    `json:"username"`
	FullName        string    `json:"full_name"`
	Biography       string    `json:"biography"`
	ProfilePicURL   string    `json:"profile_pic_url"`
	ProfilePicURLHD string    `json:"profile_pic_url_hd"`
	IsPrivate       bool      `json:"is_private"`
	IsVerified      bool      `json:"is_verified"`
	ExternalURL     string    `json:"external_url"`
	FollowedBy      countEdge `json:"edge_followed_by"`
	Follow          countEdge `json:"edge_follow"`
	Timeline        *timeline `json:"edge_owner_to_timeline_media"`
	MediaCount      *int64    `json:"media_count"`
	FollowerCount   *int64    `json:"follower_count"`
	FollowingCount  *int64    `json:"following_count"`
}

type webEnvelope struct {
	Graphql *struct {
		User *userNode `json:"user"`
	} `json:"graphql"`
}

type mobileEnvelope struct {
	Data *struct {
		User *userNode `json:"user"`
	} `json:"data"`
	Status string `json:"status"`
}

type sharedData struct {
	EntryData struct {
		ProfilePage []webEnvelope `json:"ProfilePage"`
	} `json:"entry_data"`
}

func firstNonNil(values ...*int64) *int64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

// toProfile 将上游用户对象转换为领域模型；私密账号返回 KindPrivate。
func toProfile(op, requested string, u *userNode, now time.Time) (domain.Profile, error) {
	if u == nil {
		return domain.Profile{}, &FetchError{Kind: KindParse, Op: op, Err: errMissingUser}
	}
	if u.IsPrivate {
		return domain.Profile{}, &FetchError{Kind: KindPrivate, Op: op}
	}

	username := u.Username
	if username == "" {
		username = requested
	}
	pic := u.ProfilePicURLHD
	if pic == "" {
		pic = u.ProfilePicURL
	}

	var postsCount *int64
	if u.Timeline != nil {
		postsCount = u.Timeline.Count
	}
	profile := domain.Profile{
		Username:      username,
		FullName:      u.FullName,
		Biography:     u.Biography,
		ProfilePicURL: pic,
		IsPrivate:     u.IsPrivate,
		IsVerified:    u.IsVerified,
		ExternalURL:   u.ExternalURL,
		Stats: domain.Stats{
			PostsCount:     firstNonNil(u.MediaCount, postsCount),
			FollowersCount: firstNonNil(u.FollowerCount, u.FollowedBy.Count),
			FollowingCount: firstNonNil(u.FollowingCount, u.Follow.Count),
		},
		Posts:     make([]domain.Post, 0),
		ScrapedAt: now.UTC(),
	}

	if u.Timeline != nil {
		for _, edge := range u.Timeline.Edges {
			if post, ok := toPost(edge.Node); ok {
				profile.Posts = append(profile.Posts, post)
			}
		}
	}
	if total := profile.Stats.PostsCount; total != nil {
		profile.PostsLimited = *total > int64(len(profile.Posts))
	}
	profile.Reels = domain.ReelsFromPosts(profile.Posts)
	return profile, nil
}

func toPost(n mediaNode) (domain.Post, bool) {
	if n.ID == "" || n.DisplayURL == "" {
		return domain.Post{}, false
	}
	post := domain.Post{
		ID:            n.ID,
		Shortcode:     n.Shortcode,
		DisplayURL:    n.DisplayURL,
		ThumbnailURL:  n.ThumbnailSrc,
		LikesCount:    firstNonNil(n.LikedBy.Count, n.PreviewLike.Count),
		CommentsCount: n.Comments.Count,
		IsVideo:       n.IsVideo,
	}
	if len(n.Caption.Edges) > 0 {
		post.Caption = n.Caption.Edges[0].Node.Text
	}
	if n.TakenAtTimestamp != nil {
		ts := time.Unix(*n.TakenAtTimestamp, 0).UTC()
		post.Timestamp = &ts
	}
	if n.IsVideo {
		post.VideoURL = n.VideoURL
		post.VideoViewCount = n.VideoViewCount
	}
	return post, true
}
