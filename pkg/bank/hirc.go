package bank

import "strconv"

// HircType is the object type byte of a HIRC section.
type HircType uint8

const (
	HircNone HircType = iota
	HircState
	HircSound
	HircAction
	HircEvent
	HircRanSeqContainer
	HircSwitchContainer
	HircActorMixer
	HircBus
	HircLayerContainer
	HircUnknown0
	HircUnknown1
	HircUnknown2
	HircUnknown3
	HircAttenuation
	HircDialogueEvent
	HircFxShareSet
	HircFxCustom
	HircAuxBus
	HircLFOModulator
	HircEnvelopeModulator
	HircAudioDevice
	HircTimeModulator
)

var hircNames = [...]string{
	"None", "State", "Sound", "Action", "Event", "RanSeqContainer",
	"SwitchContainer", "ActorMixer", "Bus", "LayerContainer",
	"Unknown0", "Unknown1", "Unknown2", "Unknown3", "Attenuation",
	"DialogueEvent", "FxShareSet", "FxCustom", "AuxBus", "LFOModulator",
	"EnvelopeModulator", "AudioDevice", "TimeModulator",
}

func (t HircType) String() string {
	if int(t) < len(hircNames) {
		return hircNames[t]
	}
	return "HircType(" + strconv.Itoa(int(t)) + ")"
}
