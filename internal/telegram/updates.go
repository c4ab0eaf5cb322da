package telegram

import (
	"encoding/json"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
)

// Update - обновление Bot API вместе с полями тем форума
type Update struct {
	tgbotapi.Update
	ThreadID     int
	IsTopicReply bool
}

type topicFields struct {
	Message *struct {
		MessageThreadID int  `json:"message_thread_id"`
		IsTopicMessage  bool `json:"is_topic_message"`
	} `json:"message"`
}

func decodeUpdates(raw json.RawMessage) ([]Update, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, errors.Wrap(err, "failed to decode updates")
	}

	updates := make([]Update, 0, len(items))
	for _, item := range items {
		var upd Update
		if err := json.Unmarshal(item, &upd.Update); err != nil {
			return nil, errors.Wrap(err, "failed to decode update")
		}

		var topic topicFields
		if err := json.Unmarshal(item, &topic); err != nil {
			return nil, errors.Wrap(err, "failed to decode topic fields")
		}
		if topic.Message != nil {
			upd.ThreadID = topic.Message.MessageThreadID
			upd.IsTopicReply = topic.Message.IsTopicMessage
		}
		updates = append(updates, upd)
	}
	return updates, nil
}
