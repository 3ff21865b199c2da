package model

import "fmt"

// TopicSlots is the number of positional indexed-topic slots in an OutputRecord.
const TopicSlots = 5

// ZeroTopic fills a slot that has no topic at its position. It is the zero 32-byte hash.
const ZeroTopic = "0x0000000000000000000000000000000000000000000000000000000000000000"

// OutputRecord is the fixed-shape result of decoding one InputRecord.
type OutputRecord struct {
	IndexTopic0 string `json:"index_topic_0"`
	IndexTopic1 string `json:"index_topic_1"`
	IndexTopic2 string `json:"index_topic_2"`
	IndexTopic3 string `json:"index_topic_3"`
	IndexTopic4 string `json:"index_topic_4"`
	Value       string `json:"value"`
}

// NewOutputRecord returns a record with every slot at ZeroTopic.
func NewOutputRecord(value string) OutputRecord {
	return OutputRecord{
		IndexTopic0: ZeroTopic,
		IndexTopic1: ZeroTopic,
		IndexTopic2: ZeroTopic,
		IndexTopic3: ZeroTopic,
		IndexTopic4: ZeroTopic,
		Value:       value,
	}
}

// Slot returns the value of slot k.
func (o OutputRecord) Slot(k int) string {
	switch k {
	case 0:
		return o.IndexTopic0
	case 1:
		return o.IndexTopic1
	case 2:
		return o.IndexTopic2
	case 3:
		return o.IndexTopic3
	case 4:
		return o.IndexTopic4
	default:
		return ""
	}
}

// SetSlot stores value in slot k.
func (o *OutputRecord) SetSlot(k int, value string) error {
	switch k {
	case 0:
		o.IndexTopic0 = value
	case 1:
		o.IndexTopic1 = value
	case 2:
		o.IndexTopic2 = value
	case 3:
		o.IndexTopic3 = value
	case 4:
		o.IndexTopic4 = value
	default:
		return fmt.Errorf("topic slot out of range: %d", k)
	}
	return nil
}

// Slots returns the five topic slots in order.
func (o OutputRecord) Slots() [TopicSlots]string {
	return [TopicSlots]string{o.IndexTopic0, o.IndexTopic1, o.IndexTopic2, o.IndexTopic3, o.IndexTopic4}
}
