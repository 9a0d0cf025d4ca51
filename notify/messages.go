package notify

import (
	"fmt"

	"pedigree/events"
)

// Messages 將事件轉換成要送出的訊息，事件不需要通知任何人時回傳 nil
func Messages(e events.Event) []Message {
	a := e.Auction
	base := map[string]any{
		"auctionId": a.ID.String(),
		"title":     a.Title,
	}
	with := func(kv ...any) map[string]any {
		payload := make(map[string]any, len(base)+len(kv)/2)
		for k, v := range base {
			payload[k] = v
		}
		for i := 0; i+1 < len(kv); i += 2 {
			payload[kv[i].(string)] = kv[i+1]
		}
		return payload
	}

	switch e.Kind {
	case events.KindBidAdmitted:
		if e.Bid == nil {
			return nil
		}
		messages := []Message{
			NewMessage(e.Bid.BidderID, ChannelInApp, KindBidConfirmed,
				fmt.Sprintf("Your bid on %q is the highest", a.Title),
				with("amount", e.Bid.Amount, "currentPrice", a.CurrentPrice)),
		}
		if prev := e.PreviousWinner; prev != nil && prev.BidderID != e.Bid.BidderID {
			messages = append(messages, NewMessage(prev.BidderID, ChannelEmail, KindOutbid,
				fmt.Sprintf("You have been outbid on %q", a.Title),
				with("yourBid", prev.Amount, "currentPrice", a.CurrentPrice)))
		}
		return messages

	case events.KindAuctionApproved:
		return []Message{
			NewMessage(a.SellerID, ChannelEmail, KindAuctionApproved,
				fmt.Sprintf("%q is now open for bidding", a.Title),
				with("endTime", a.EndTime)),
		}

	case events.KindAuctionClosed:
		if win := e.WinningBid; win != nil {
			return []Message{
				NewMessage(win.BidderID, ChannelEmail, KindAuctionWon,
					fmt.Sprintf("You won %q", a.Title),
					with("amount", win.Amount, "reason", string(e.Reason))),
				NewMessage(a.SellerID, ChannelEmail, KindAuctionSold,
					fmt.Sprintf("%q sold for %d", a.Title, win.Amount),
					with("amount", win.Amount, "buyerId", win.BidderID, "reserveMet", e.ReserveMet, "reason", string(e.Reason))),
			}
		}
		if e.Reason == events.ReasonRejected {
			return []Message{
				NewMessage(a.SellerID, ChannelEmail, KindAuctionRejected,
					fmt.Sprintf("%q was not approved", a.Title),
					with("note", e.Note)),
			}
		}
		return []Message{
			NewMessage(a.SellerID, ChannelEmail, KindAuctionEndedUnsold,
				fmt.Sprintf("%q ended without bids", a.Title),
				with("reason", string(e.Reason))),
		}
	}
	return nil
}
