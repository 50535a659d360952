package model

import (
	"encoding/json"
)

// SegmentType discriminates the segment union.
type SegmentType string

const (
	SegmentText         SegmentType = "text"
	SegmentPartnerDraft SegmentType = "partner_draft"
)

// Segment is one typed, ordered unit of an assistant turn: either
// plain reply text or a draft addressed to the linked partner.
type Segment struct {
	Type SegmentType `json:"type"`

	// Content holds the text of a text segment.
	Content string `json:"content,omitempty"`

	// Text holds the body of a partner_draft segment.
	Text string `json:"text,omitempty"`
}

// Annotation is the structured metadata embedded in a persisted
// assistant message's content.
type Annotation struct {
	// Type is "segments" for a decomposed assistant turn or
	// "partner_received" for a message forwarded from the partner.
	Type string `json:"type"`

	Segments []Segment `json:"segments,omitempty"`
	Text     string    `json:"text,omitempty"`
}

const (
	AnnotationSegments        = "segments"
	AnnotationPartnerReceived = "partner_received"
)

// annotatedContent is the wire shape of an annotated message body.
type annotatedContent struct {
	Meta *Annotation `json:"_pairlink,omitempty"`
	Body string      `json:"body,omitempty"`
}

// EncodeSegments serializes a segment list into message content.
func EncodeSegments(segments []Segment) (string, error) {
	raw, err := json.Marshal(annotatedContent{
		Meta: &Annotation{Type: AnnotationSegments, Segments: segments},
	})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// EncodePartnerReceived serializes a forwarded partner message into
// message content.
func EncodePartnerReceived(text string) (string, error) {
	raw, err := json.Marshal(annotatedContent{
		Meta: &Annotation{Type: AnnotationPartnerReceived, Text: text},
	})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DecodeAnnotation extracts the annotation from message content.
// Plain (unannotated) content returns ok=false.
func DecodeAnnotation(content string) (*Annotation, bool) {
	var wrapped annotatedContent
	if err := json.Unmarshal([]byte(content), &wrapped); err != nil {
		return nil, false
	}
	if wrapped.Meta == nil || wrapped.Meta.Type == "" {
		return nil, false
	}
	return wrapped.Meta, true
}
