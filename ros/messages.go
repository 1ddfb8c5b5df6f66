package ros

import (
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"github.com/stableseg/stableseg/motion"
	"github.com/stableseg/stableseg/rimage"
	"github.com/stableseg/stableseg/rimage/transform"
	"github.com/stableseg/stableseg/segmentation"
	"github.com/stableseg/stableseg/spatialmath"
)

// Stamp is a ROS time.
type Stamp struct {
	Secs  int64
	Nsecs int64
}

// Time converts s to a time.Time.
func (s Stamp) Time() time.Time {
	return time.Unix(s.Secs, s.Nsecs).UTC()
}

// StampFromTime converts t to a ROS time.
func StampFromTime(t time.Time) Stamp {
	return Stamp{Secs: t.Unix(), Nsecs: int64(t.Nanosecond())}
}

// Header is std_msgs/Header.
type Header struct {
	Seq     uint32
	Stamp   Stamp
	FrameID string `json:"frame_id"`
}

// JointStateMessage is a sensor_msgs/JointState record.
type JointStateMessage struct {
	Meta Stamp
	Data struct {
		Header   Header
		Name     []string
		Position []float64
		Velocity []float64
		Effort   []float64
	}
}

// Sample converts m to a joint sample stamped with its header time.
func (m *JointStateMessage) Sample() motion.JointSample {
	return motion.JointSample{
		Names:      m.Data.Name,
		Positions:  m.Data.Position,
		Velocities: m.Data.Velocity,
		Stamp:      m.Data.Header.Stamp.Time(),
	}
}

// Image is sensor_msgs/Image.
type Image struct {
	Header      Header
	Height      int
	Width       int
	Encoding    string
	IsBigendian uint8 `json:"is_bigendian"`
	Step        int
	Data        []byte
}

// RawDepth returns the image as an undecoded depth frame.
func (img *Image) RawDepth() *rimage.RawDepth {
	return &rimage.RawDepth{
		Encoding:    img.Encoding,
		Width:       img.Width,
		Height:      img.Height,
		Step:        img.Step,
		IsBigEndian: img.IsBigendian != 0,
		Data:        img.Data,
	}
}

// RawImage returns the image as an undecoded 8-bit frame.
func (img *Image) RawImage() *rimage.RawImage {
	return &rimage.RawImage{
		Encoding: img.Encoding,
		Width:    img.Width,
		Height:   img.Height,
		Step:     img.Step,
		Data:     img.Data,
	}
}

// ImageMessage is a sensor_msgs/Image record.
type ImageMessage struct {
	Meta Stamp
	Data Image
}

// CameraInfoMessage is a sensor_msgs/CameraInfo record.
type CameraInfoMessage struct {
	Meta Stamp
	Data struct {
		Header          Header
		Height          int
		Width           int
		DistortionModel string `json:"distortion_model"`
		D               []float64
		K               [9]float64
		R               [9]float64
		P               [12]float64
	}
}

// Intrinsics returns the pinhole model described by the K matrix.
func (m *CameraInfoMessage) Intrinsics() (*transform.PinholeCameraIntrinsics, error) {
	return transform.NewIntrinsicsFromK(m.Data.Width, m.Data.Height, m.Data.K[:])
}

// RegionOfInterest is sensor_msgs/RegionOfInterest.
type RegionOfInterest struct {
	XOffset   int  `json:"x_offset"`
	YOffset   int  `json:"y_offset"`
	Height    int  `json:"height"`
	Width     int  `json:"width"`
	DoRectify bool `json:"do_rectify"`
}

// MaskResultMessage is an instance segmentation result: one mono8 mask per detection with its
// class, in the layout Mask R-CNN publishes.
type MaskResultMessage struct {
	Meta Stamp
	Data struct {
		Header     Header
		Boxes      []RegionOfInterest
		ClassIDs   []int32  `json:"class_ids"`
		ClassNames []string `json:"class_names"`
		Scores     []float32
		Masks      []Image
	}
}

// Segmentation decodes the masks of m. Instance ids are assigned in detection order starting at 1.
func (m *MaskResultMessage) Segmentation() (*segmentation.SemanticInstanceSegmentation, error) {
	d := &m.Data
	if len(d.ClassIDs) != len(d.Masks) {
		return nil, errors.Errorf("mask result has %d class ids for %d masks", len(d.ClassIDs), len(d.Masks))
	}
	out := &segmentation.SemanticInstanceSegmentation{Masks: make([]segmentation.InstanceMask, 0, len(d.Masks))}
	for i := range d.Masks {
		mask, err := rimage.DecodeMono8(d.Masks[i].RawImage())
		if err != nil {
			return nil, errors.Wrapf(err, "mask %d", i)
		}
		im := segmentation.InstanceMask{
			Mask:       mask,
			ClassID:    int(d.ClassIDs[i]),
			InstanceID: i + 1,
		}
		if i < len(d.ClassNames) {
			im.ClassName = d.ClassNames[i]
		}
		out.Masks = append(out.Masks, im)
	}
	return out, nil
}

// Vector3 is geometry_msgs/Vector3.
type Vector3 struct {
	X, Y, Z float64
}

// Quaternion is geometry_msgs/Quaternion.
type Quaternion struct {
	X, Y, Z, W float64
}

// TransformStamped is geometry_msgs/TransformStamped.
type TransformStamped struct {
	Header       Header
	ChildFrameID string `json:"child_frame_id"`
	Transform    struct {
		Translation Vector3
		Rotation    Quaternion
	}
}

// Pose returns the pose of the child frame in the header frame.
func (t *TransformStamped) Pose() spatialmath.Pose {
	tr, rot := t.Transform.Translation, t.Transform.Rotation
	return spatialmath.NewPose(
		r3.Vector{X: tr.X, Y: tr.Y, Z: tr.Z},
		quat.Number{Real: rot.W, Imag: rot.X, Jmag: rot.Y, Kmag: rot.Z},
	)
}

// TFMessage is a tf2_msgs/TFMessage record.
type TFMessage struct {
	Meta Stamp
	Data struct {
		Transforms []TransformStamped
	}
}
