package kafka

import (
	"fmt"
	"hash/crc32"
)

// GenTopics 生成 N 个分片 Topic：talkify.presence-00, talkify.presence-01, ...
func GenTopics(c Config) []string {
	n := c.TopicCount
	if n <= 0 {
		n = 1
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, fmt.Sprintf(c.TopicPattern, i))
	}
	return out
}

// SelectTopicByUser 同一 userId 永远命中同一个 Topic
func SelectTopicByUser(userId string, topics []string) string {
	if len(topics) == 0 {
		return ""
	}
	h := crc32.ChecksumIEEE([]byte(userId))
	return topics[int(h%uint32(len(topics)))]
}
