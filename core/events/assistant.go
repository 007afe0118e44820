package events

const (
	KindAssistantText         Kind = "assistant.text"
	KindAssistantErrorMessage Kind = "assistant.error_message"
)

type AssistantText struct {
	Base
	Text string
}

func NewAssistantText(text string) AssistantText {
	return AssistantText{Base: NewBase(KindAssistantText), Text: text}
}

type AssistantErrorMessage struct {
	Base
	Message string
}

func NewAssistantErrorMessage(message string) AssistantErrorMessage {
	return AssistantErrorMessage{Base: NewBase(KindAssistantErrorMessage), Message: message}
}
