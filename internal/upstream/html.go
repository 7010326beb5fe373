package upstream

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var errMissingUser = errors.New("user object not found")

const sharedDataMarker = "window._sharedData"

// extractUserFromHTML 依次尝试 window._sharedData 与 application/json 脚本块。
func extractUserFromHTML(page []byte, username string) (*userNode, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, err
	}

	var found *userNode
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		if !strings.Contains(text, sharedDataMarker) {
			return true
		}
		if u := userFromSharedData(text); u != nil {
			found = u
			return false
		}
		return true
	})
	if found != nil {
		return found, nil
	}

	doc.Find(`script[type="application/json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var payload interface{}
		if err := json.Unmarshal([]byte(strings.TrimSpace(s.Text())), &payload); err != nil {
			return true
		}
		if u := searchUser(payload, username); u != nil {
			found = u
			return false
		}
		return true
	})
	if found != nil {
		return found, nil
	}
	return nil, errMissingUser
}

func userFromSharedData(script string) *userNode {
	idx := strings.Index(script, sharedDataMarker)
	rest := script[idx+len(sharedDataMarker):]
	start := strings.Index(rest, "{")
	end := strings.LastIndex(rest, "}")
	if start < 0 || end <= start {
		return nil
	}
	var data sharedData
	if err := json.Unmarshal([]byte(rest[start:end+1]), &data); err != nil {
		return nil
	}
	for _, page := range data.EntryData.ProfilePage {
		if page.Graphql != nil && page.Graphql.User != nil {
			return page.Graphql.User
		}
	}
	return nil
}

// searchUser 深度优先查找 username 匹配且带有粉丝计数的对象。
func searchUser(v interface{}, username string) *userNode {
	switch node := v.(type) {
	case map[string]interface{}:
		if name, _ := node["username"].(string); strings.EqualFold(name, username) {
			if _, ok := node["edge_followed_by"]; ok {
				return decodeUser(node)
			}
			if _, ok := node["follower_count"]; ok {
				return decodeUser(node)
			}
		}
		for _, child := range node {
			if u := searchUser(child, username); u != nil {
				return u
			}
		}
	case []interface{}:
		for _, child := range node {
			if u := searchUser(child, username); u != nil {
				return u
			}
		}
	}
	return nil
}

func decodeUser(node map[string]interface{}) *userNode {
	raw, err := json.Marshal(node)
	if err != nil {
		return nil
	}
	var u userNode
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil
	}
	return &u
}
