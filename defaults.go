package feedcache

import "time"

// DefaultShapes returns the stock shape table covering the feed, detail
// and profile queries a social client issues. Apps with custom query
// families build their own table and pass it via WithShapes.
func DefaultShapes() *ShapeTable {
	t, err := NewShapeTable(
		Shape{Domain: "stories", Path: "feeds", Params: []ParamSpec{NumericParam("limit", 50)}, Flat: "feed:{limit}"},
		Shape{Domain: "stories", Path: "users/{user}/stories", Flat: "user:{user}"},
		Shape{Domain: "reels", Path: "feeds", Params: []ParamSpec{NumericParam("limit", 20)}, Flat: "feed:{limit}"},
		Shape{Domain: "reels", Path: "detail/{reel}", Flat: "detail:{reel}"},
		Shape{Domain: "posts", Path: "feeds", Params: []ParamSpec{NumericParam("page", 1), NumericParam("limit", 30)}, Flat: "feed:{page}:{limit}"},
		Shape{Domain: "posts", Path: "detail/{post}", Flat: "detail:{post}"},
		Shape{Domain: "posts", Path: "users/{user}", Flat: "user:{user}"},
		Shape{Domain: "users", Path: "detail/{user}", Flat: "profile:{user}"},
		Shape{Domain: "users", Path: "followers/{user}", Params: []ParamSpec{NumericParam("limit", 50)}, Flat: "followers:{user}:{limit}"},
		Shape{Domain: "users", Path: "following/{user}", Params: []ParamSpec{NumericParam("limit", 50)}, Flat: "following:{user}:{limit}"},
		Shape{Domain: "notifications", Path: "users/{user}", Params: []ParamSpec{NumericParam("limit", 30)}, Flat: "user:{user}:{limit}"},
		Shape{Domain: "notifications", Path: "users/{user}/unread", Flat: "unread:{user}"},
	)
	if err != nil {
		panic("feedcache: default shapes: " + err.Error())
	}
	return t
}

// DefaultPolicies returns the stock freshness policies. Feeds revalidate
// within minutes; profiles live longer; notifications are nearly live.
func DefaultPolicies() *PolicyTable {
	t, err := NewPolicyTable(
		Policy{StaleFor: time.Minute, ExpireAfter: 10 * time.Minute},
		map[string]map[string]Policy{
			"stories": {
				"feeds": {StaleFor: 2 * time.Minute, ExpireAfter: 10 * time.Minute},
				"users": {StaleFor: 2 * time.Minute, ExpireAfter: 15 * time.Minute},
			},
			"reels": {
				"feeds": {StaleFor: 30 * time.Second, ExpireAfter: 5 * time.Minute},
				"":      {StaleFor: time.Minute, ExpireAfter: 10 * time.Minute},
			},
			"posts": {
				"feeds":  {StaleFor: time.Minute, ExpireAfter: 10 * time.Minute},
				"detail": {StaleFor: 5 * time.Minute, ExpireAfter: 30 * time.Minute},
				"":       {StaleFor: 2 * time.Minute, ExpireAfter: 15 * time.Minute},
			},
			"users": {
				"detail": {StaleFor: 10 * time.Minute, ExpireAfter: time.Hour},
				"":       {StaleFor: 5 * time.Minute, ExpireAfter: 30 * time.Minute},
			},
			"notifications": {
				"": {StaleFor: 15 * time.Second, ExpireAfter: 2 * time.Minute},
			},
		},
	)
	if err != nil {
		panic("feedcache: default policies: " + err.Error())
	}
	return t
}
