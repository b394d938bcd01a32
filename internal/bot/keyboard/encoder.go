package keyboard

import (
	"errors"
	"fmt"
	"strings"
)

const (
	CallbackDataSeparator = ":"
	// CallbackDataLimitBytes is Telegram's limit for callback_data.
	CallbackDataLimitBytes = 64
)

// EncodeCallback joins a handler name and its payload as "unique:data".
func EncodeCallback(unique, data string) (string, error) {
	if unique == "" {
		return "", errors.New("callback unique is empty")
	}
	if data == "" {
		if len(unique) > CallbackDataLimitBytes {
			return "", fmt.Errorf("callback data exceeds %d byte limit: got %d", CallbackDataLimitBytes, len(unique))
		}
		return unique, nil
	}

	payload := unique + CallbackDataSeparator + data
	if len(payload) > CallbackDataLimitBytes {
		return "", fmt.Errorf("callback data exceeds %d byte limit: got %d", CallbackDataLimitBytes, len(payload))
	}

	return payload, nil
}

// DecodeCallback splits at the first separator. A leading form feed left by telebot's own encoding is ignored.
func DecodeCallback(callbackData string) (unique, data string, err error) {
	callbackData = strings.TrimPrefix(callbackData, "\f")
	if callbackData == "" {
		return "", "", errors.New("callback data is empty")
	}

	idx := strings.Index(callbackData, CallbackDataSeparator)
	if idx == -1 {
		return callbackData, "", nil
	}

	return callbackData[:idx], callbackData[idx+len(CallbackDataSeparator):], nil
}
