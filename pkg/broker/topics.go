package broker

import "strings"

const feedsSegment = "/feeds/"

// FeedTopic is the topic of a channel in the user's feed namespace.
func FeedTopic(username, channel string) string {
	return username + feedsSegment + channel
}

// ChannelFromTopic extracts the channel name from a feed topic.
// Topics without a feeds segment yield their last path element.
func ChannelFromTopic(topic string) string {
	if i := strings.LastIndex(topic, feedsSegment); i >= 0 {
		return strings.TrimSuffix(topic[i+len(feedsSegment):], "/json")
	}
	if i := strings.LastIndex(topic, "/"); i >= 0 {
		return topic[i+1:]
	}
	return topic
}
