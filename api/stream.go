package api

import (
	"time"

	"github.com/gin-gonic/gin"
)

// keepAlive 是沒有事件時送出空行的間隔，確保瀏覽器和 proxy 不會斷開連線
var keepAlive = 30 * time.Second

// Track auction snapshots
// (GET /auctions/{id}/events)
func (s *Server) streamEvents(c *gin.Context) {
	id, err := auctionID(c)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	ch, err := s.feed.Subscribe(c.Request.Context(), id)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	// SSE請求合法，開始初始化串流
	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case snapshot, ok := <-ch:
			// 拍賣結束或 feed 關閉
			if !ok {
				return
			}
			c.SSEvent("snapshot", snapshot)
			w.Flush()
		case <-ticker.C:
			_, _ = w.WriteString("\n\n")
			w.Flush()
		}
	}
}
