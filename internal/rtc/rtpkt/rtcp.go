package rtpkt

import (
	"github.com/pion/rtcp"
)

// BuildNACK assembles a Generic NACK (RTPFB, FMT=1) for mediaSSRC
// covering lostSeqs, coalescing them into PID+BLP pairs per
// RFC 4585 §6.2.1 -- the loss set for one pair is
// {PID} ∪ {PID+i : bit (i-1) of BLP set, 1<=i<=16}.
func BuildNACK(senderSSRC, mediaSSRC uint32, lostSeqs []uint16) *rtcp.TransportLayerNack {
	return &rtcp.TransportLayerNack{
		SenderSSRC: senderSSRC,
		MediaSSRC:  mediaSSRC,
		Nacks:      rtcp.NackPairsFromSequenceNumbers(lostSeqs),
	}
}

// NackLostSequences expands a NACK's PID+BLP pairs back into the flat
// set of missing sequence numbers it describes.
func NackLostSequences(n *rtcp.TransportLayerNack) []uint16 {
	var out []uint16
	for _, pair := range n.Nacks {
		out = append(out, pair.PacketList()...)
	}
	return out
}

// BuildPLI builds a Picture Loss Indication (PSFB, FMT=1) requesting a
// keyframe for mediaSSRC.
func BuildPLI(senderSSRC, mediaSSRC uint32) *rtcp.PictureLossIndication {
	return &rtcp.PictureLossIndication{SenderSSRC: senderSSRC, MediaSSRC: mediaSSRC}
}

// BuildRR builds a Receiver Report for one or more tracks' reception
// reports.
func BuildRR(ssrc uint32, reports []rtcp.ReceptionReport) *rtcp.ReceiverReport {
	return &rtcp.ReceiverReport{SSRC: ssrc, Reports: reports}
}

// BuildSR builds a Sender Report.
func BuildSR(ssrc uint32, ntpTime uint64, rtpTime uint32, packetCount, octetCount uint32, reports []rtcp.ReceptionReport) *rtcp.SenderReport {
	return &rtcp.SenderReport{
		SSRC:        ssrc,
		NTPTime:     ntpTime,
		RTPTime:     rtpTime,
		PacketCount: packetCount,
		OctetCount:  octetCount,
		Reports:     reports,
	}
}

// BuildXRRRTR builds an Extended Report carrying a Receiver Reference
// Time Report Block (BT=4), the "here's my clock" half of the XR-RTT
// exchange.
func BuildXRRRTR(senderSSRC uint32, ntp uint64) *rtcp.ExtendedReport {
	return &rtcp.ExtendedReport{
		SenderSSRC: senderSSRC,
		Reports: []rtcp.ReportBlock{
			&rtcp.ReceiverReferenceTimeReportBlock{NTPTimestamp: ntp},
		},
	}
}

// BuildXRDLRR builds an Extended Report carrying a DLRR Report Block
// (BT=5), the "here's your clock back, and how long I sat on it"
// reply half of the XR-RTT exchange.
func BuildXRDLRR(senderSSRC uint32, peerSSRC uint32, lastRR uint32, delaySinceLastRR uint32) *rtcp.ExtendedReport {
	return &rtcp.ExtendedReport{
		SenderSSRC: senderSSRC,
		Reports: []rtcp.ReportBlock{
			&rtcp.DLRRReportBlock{
				Reports: []rtcp.DLRRReport{
					{SSRC: peerSSRC, LastRR: lastRR, DLRR: delaySinceLastRR},
				},
			},
		},
	}
}

// Marshal serializes one or more RTCP packets into a single compound
// packet buffer.
func Marshal(pkts ...rtcp.Packet) ([]byte, error) {
	return rtcp.Marshal(pkts)
}

// ParseCompound decodes a raw RTCP compound packet into its
// constituent packets.
func ParseCompound(buf []byte) ([]rtcp.Packet, error) {
	return rtcp.Unmarshal(buf)
}
